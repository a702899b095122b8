package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SERVICE_PORT", "8080")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("MONGO_NAME", "chat")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "supersecret")
}

func TestLoadFromEnv(t *testing.T) {
	setValidEnv(t)

	cfg := &Config{}
	overrideFromEnv(cfg)
	cfg.JWT.Alg = "HS256"
	require.NoError(t, validate(cfg))

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "redis", cfg.Broadcast.Driver, "redis is the default broadcast driver")
	assert.Equal(t, "8080", cfg.App.PortString())
}

func TestValidateRejectsMissingMongo(t *testing.T) {
	cfg := &Config{}
	cfg.App.Port = 8080
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo.uri")
}

func TestValidateBroadcastDriver(t *testing.T) {
	cfg := &Config{}
	cfg.App.Port = 8080
	cfg.Mongo.URI = "mongodb://localhost"
	cfg.Mongo.DB = "chat"
	cfg.JWT.Alg = "HS256"
	cfg.JWT.HSSecret = "s"

	cfg.Broadcast.Driver = "carrier-pigeon"
	assert.Error(t, validate(cfg))

	cfg.Broadcast.Driver = "nats"
	assert.Error(t, validate(cfg), "nats driver requires a url")
	cfg.Broadcast.NATSURL = "nats://localhost:4222"
	assert.NoError(t, validate(cfg))

	cfg.Broadcast.Driver = "memory"
	assert.NoError(t, validate(cfg))
}

func TestRateLimitDefaults(t *testing.T) {
	var rl RateLimit
	perMinute, burst := rl.Limits()
	assert.Equal(t, 300, perMinute)
	assert.Equal(t, 30, burst)

	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	cfg := &Config{}
	overrideFromEnv(cfg)
	perMinute, _ = cfg.RateLimit.Limits()
	assert.Equal(t, 120, perMinute)
}

func TestTypingDebounceDefault(t *testing.T) {
	var ty Typing
	assert.Equal(t, "3s", ty.Debounce().String())
	ty.DebounceMS = 250
	assert.Equal(t, "250ms", ty.Debounce().String())
}
