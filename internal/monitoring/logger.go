package monitoring

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logf is the package-level diagnostic logger. It defaults to an info-level
// zap sugared logger but may be replaced by SetLogger. Tests or production
// code can redirect or mute it.
var Logf func(format string, v ...interface{}) = newDefaultLogger().Infof

// Debugf and Warnf follow the same convention as Logf. Engines use Debugf for
// per-iteration detail and Warnf for localized failures they recover from.
var (
	Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}
	Warnf  func(format string, v ...interface{}) = newDefaultLogger().Warnf
)

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Mute silences Logf, Debugf and Warnf. Intended for tests and benchmarks.
func Mute() {
	noop := func(string, ...interface{}) {}
	Logf, Debugf, Warnf = noop, noop, noop
}

// Configure builds a zap logger at the given level ("debug", "info", "warn",
// "error") and routes Logf, Debugf and Warnf through it. The returned sync
// function flushes buffered entries and should be deferred by the caller.
func Configure(level string) (func() error, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	sugar := logger.Sugar()
	Logf = sugar.Infof
	Debugf = sugar.Debugf
	Warnf = sugar.Warnf
	return logger.Sync, nil
}

func newDefaultLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
