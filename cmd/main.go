package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-client-core/internal/api"
	"github.com/fathima-sithara/chat-client-core/internal/auth"
	"github.com/fathima-sithara/chat-client-core/internal/bridge"
	"github.com/fathima-sithara/chat-client-core/internal/broadcast"
	"github.com/fathima-sithara/chat-client-core/internal/config"
	"github.com/fathima-sithara/chat-client-core/internal/events"
	"github.com/fathima-sithara/chat-client-core/internal/logger"
	"github.com/fathima-sithara/chat-client-core/internal/metrics"
	"github.com/fathima-sithara/chat-client-core/internal/presence"
	"github.com/fathima-sithara/chat-client-core/internal/store"
	"github.com/fathima-sithara/chat-client-core/internal/translate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	cancel()
	if err != nil {
		zlog.Fatalw("mongo connect", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	msgStore := store.NewMongoStore(mc.Database(cfg.Mongo.DB), logger.Component(zlog, "store"))

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	var bus broadcast.Bus
	switch cfg.Broadcast.Driver {
	case "redis":
		bus = broadcast.NewRedisBus(rdb, cfg.Redis.Prefix)
	case "nats":
		nb, err := broadcast.NewNATSBus(cfg.Broadcast.NATSURL, cfg.Redis.Prefix)
		if err != nil {
			zlog.Fatalw("nats connect", "err", err)
		}
		defer func() { _ = nb.Close() }()
		bus = nb
	case "memory":
		bus = broadcast.NewMemoryBus()
	}

	var telemetry *events.Publisher
	if cfg.Kafka.Enabled() {
		telemetry = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicTransitions, logger.Component(zlog, "telemetry"))
		defer func() { _ = telemetry.Close() }()
	}

	var translator translate.Translator = translate.Noop{}
	if cfg.Translate.Endpoint != "" {
		translator = translate.NewHTTPTranslator(
			cfg.Translate.Endpoint,
			cfg.Translate.Credential,
			time.Duration(cfg.Translate.TimeoutMS)*time.Millisecond,
		)
	}

	var pres *presence.Store
	if rdb != nil {
		pres = presence.NewStore(rdb, cfg.Redis.Prefix, 0)
	}

	var jv *auth.JWTValidator
	if strings.ToUpper(cfg.JWT.Alg) == "RS256" {
		jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath)
	} else {
		jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
	}
	if err != nil {
		zlog.Fatalw("jwt validator init", "err", err)
	}

	br := &bridge.Server{
		Bus:            bus,
		Store:          msgStore,
		Translator:     translator,
		TargetLang:     cfg.Translate.TargetLang,
		Telemetry:      telemetry,
		Presence:       pres,
		TypingDebounce: cfg.Typing.Debounce(),
		Log:            logger.Component(zlog, "bridge"),
	}

	perMinute, burst := cfg.RateLimit.Limits()
	rl := api.NewIPRateLimiter(perMinute, burst, logger.Component(zlog, "api"))
	app := api.NewServer(br, msgStore, jv, rl)

	if cfg.Metrics.Port != 0 {
		go func() {
			addr := ":" + strconv.Itoa(cfg.Metrics.Port)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				zlog.Warnw("metrics listen", "err", err)
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		zlog.Infow("bridge started", "addr", addr, "broadcast", cfg.Broadcast.Driver)
		errs <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zlog.Fatalw("server error", "err", e)
	case s := <-quit:
		zlog.Infow("signal received", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	zlog.Infow("bridge stopped")
}
