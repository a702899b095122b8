package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type App struct {
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
}

func (a *App) PortString() string { return fmt.Sprintf("%d", a.Port) }

type Mongo struct {
	URI string `yaml:"uri"`
	DB  string `yaml:"db"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Broadcast struct {
	// Driver selects the ephemeral path backend: redis | nats | memory.
	Driver  string `yaml:"driver"`
	NATSURL string `yaml:"nats_url"`
}

type Kafka struct {
	Brokers          []string `yaml:"brokers"`
	TopicTransitions string   `yaml:"topic_transitions"`
}

// Enabled reports whether lifecycle telemetry should be wired.
func (k *Kafka) Enabled() bool { return len(k.Brokers) > 0 && k.TopicTransitions != "" }

type Translate struct {
	Endpoint   string `yaml:"endpoint"`
	Credential string `yaml:"credential"`
	TargetLang string `yaml:"target_lang"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type Typing struct {
	DebounceMS int `yaml:"debounce_ms"`
}

func (t *Typing) Debounce() time.Duration {
	if t.DebounceMS == 0 {
		return 3 * time.Second
	}
	return time.Duration(t.DebounceMS) * time.Millisecond
}

type JWT struct {
	Alg           string `yaml:"alg"`
	PublicKeyPath string `yaml:"public_key_path"`
	HSSecret      string `yaml:"hs_secret"`
}

type RateLimit struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// Limits returns per-minute and burst with defaults applied.
func (r *RateLimit) Limits() (int, int) {
	perMinute, burst := r.PerMinute, r.Burst
	if perMinute == 0 {
		perMinute = 300
	}
	if burst == 0 {
		burst = 30
	}
	return perMinute, burst
}

type Metrics struct {
	Port int `yaml:"port"`
}

type Config struct {
	App       App       `yaml:"app"`
	Mongo     Mongo     `yaml:"mongo"`
	Redis     Redis     `yaml:"redis"`
	Broadcast Broadcast `yaml:"broadcast"`
	Kafka     Kafka     `yaml:"kafka"`
	Translate Translate `yaml:"translate"`
	Typing    Typing    `yaml:"typing"`
	JWT       JWT       `yaml:"jwt"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Metrics   Metrics   `yaml:"metrics"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		b, _ := os.ReadFile("config.yaml")
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.App.Port = n
	}

	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_NAME"); v != "" {
		cfg.Mongo.DB = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("BROADCAST_DRIVER"); v != "" {
		cfg.Broadcast.Driver = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Broadcast.NATSURL = v
	}

	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC_TRANSITIONS"); v != "" {
		cfg.Kafka.TopicTransitions = v
	}

	if v := os.Getenv("TRANSLATE_ENDPOINT"); v != "" {
		cfg.Translate.Endpoint = v
	}
	if v := os.Getenv("TRANSLATE_CREDENTIAL"); v != "" {
		cfg.Translate.Credential = v
	}
	if v := os.Getenv("TRANSLATE_TARGET_LANG"); v != "" {
		cfg.Translate.TargetLang = v
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.RateLimit.PerMinute = n
	}

	if v := os.Getenv("JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.JWT.PublicKeyPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.HSSecret = v
	}
}

func validate(cfg *Config) error {
	if cfg.App.Port == 0 {
		return errors.New("app.port missing or invalid")
	}

	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri missing")
	}
	if cfg.Mongo.DB == "" {
		return errors.New("mongo.db missing")
	}

	switch cfg.Broadcast.Driver {
	case "", "redis":
		cfg.Broadcast.Driver = "redis"
		if cfg.Redis.Addr == "" {
			return errors.New("redis.addr missing")
		}
	case "nats":
		if cfg.Broadcast.NATSURL == "" {
			return errors.New("broadcast.nats_url missing")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid broadcast.driver %q (use redis, nats or memory)", cfg.Broadcast.Driver)
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}

	return nil
}
