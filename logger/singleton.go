package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu       sync.RWMutex
	instance *zap.Logger
)

// Init builds the process-wide logger from cfg, replacing any previous one.
func Init(cfg Config) {
	Set(Build(cfg))
}

// Set replaces the process-wide logger. A nil logger installs a no-op one.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}

	mu.Lock()
	instance = l
	mu.Unlock()
}

// L returns the process-wide logger. Before Init it is a dev logger at
// info level.
func L() *zap.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()

	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance = Build(Config{Env: "dev", Level: "info"})
	}

	return instance
}

// Named returns the process-wide logger with a component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries.
func Sync() error {
	return L().Sync()
}
