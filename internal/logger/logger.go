// Package logger builds the process-wide zap logger and hands out
// component-scoped children so log lines identify which part of the
// delivery core emitted them.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

type Config struct {
	Development bool
}

// New returns the singleton root logger, building it on first call.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		var l *zap.Logger
		if cfg.Development {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}

// Component returns a child logger tagged with the owning subsystem
// (store, bridge, telemetry, ...).
func Component(l *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return l.With("component", name)
}
