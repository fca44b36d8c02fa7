package serverlogger

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger = zap.NewNop().Sugar()

	// pion/webrtc, pion/ice
	defaultFactory logging.LoggerFactory
)

func InitProduction(logLevel string) {
	initLogger(zap.NewProductionConfig(), logLevel)
}

func InitDevelopment(logLevel string) {
	initLogger(zap.NewDevelopmentConfig(), logLevel)
}

// valid levels: debug, info, warn, error, fatal, panic
func initLogger(config zap.Config, level string) {
	if level != "" {
		lvl := zapcore.Level(0)
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, _ := config.Build(zap.AddCallerSkip(1))
	defaultLogger = l.Sugar()
}

func GetLogger() *zap.SugaredLogger {
	return defaultLogger
}

func Debugw(msg string, keysAndValues ...interface{}) {
	defaultLogger.Debugw(msg, keysAndValues...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	defaultLogger.Infow(msg, keysAndValues...)
}

func Warnw(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err)
	}
	defaultLogger.Warnw(msg, keysAndValues...)
}

func Errorw(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err)
	}
	defaultLogger.Errorw(msg, keysAndValues...)
}

func LoggerFactory() logging.LoggerFactory {
	if defaultFactory == nil {
		defaultFactory = &zapLoggerFactory{}
	}
	return defaultFactory
}

func SetLoggerFactory(lf logging.LoggerFactory) {
	defaultFactory = lf
}

type zapLoggerFactory struct{}

func (f *zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveledLogger{scope: scope}
}

// zapLeveledLogger adapts the process logger to pion's LeveledLogger so
// engine internals share the same sink.
type zapLeveledLogger struct {
	scope string
}

func (l *zapLeveledLogger) logger() *zap.SugaredLogger {
	return defaultLogger.Named(l.scope)
}

func (l *zapLeveledLogger) Trace(msg string) { l.logger().Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...interface{}) {
	l.logger().Debugf(format, args...)
}
func (l *zapLeveledLogger) Debug(msg string) { l.logger().Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...interface{}) {
	l.logger().Debugf(format, args...)
}
func (l *zapLeveledLogger) Info(msg string) { l.logger().Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...interface{}) {
	l.logger().Infof(format, args...)
}
func (l *zapLeveledLogger) Warn(msg string) { l.logger().Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...interface{}) {
	l.logger().Warnf(format, args...)
}
func (l *zapLeveledLogger) Error(msg string) { l.logger().Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) {
	l.logger().Errorf(format, args...)
}
