package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	sugared *zap.SugaredLogger
)

func init() {
	sugared = build(os.Getenv("ENVIRONMENT") == "development")
}

func build(development bool) *zap.SugaredLogger {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		l, err = cfg.Build(zap.AddCallerSkip(1))
	} else {
		l, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Configure rebuilds the process logger for the given environment.
func Configure(environment string) {
	mu.Lock()
	defer mu.Unlock()
	_ = sugared.Sync()
	sugared = build(environment == "development")
}

// Replace swaps the process logger, mainly for tests. It returns a restore func.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := sugared
	sugared = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
	return func() {
		mu.Lock()
		sugared = prev
		mu.Unlock()
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// With returns a child logger carrying structured fields, for long-lived
// workers that log many lines about the same entity.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return current().With(keysAndValues...)
}

func Sync() error {
	return current().Sync()
}
