package observe

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// zapLogger is a JSON structured logger backed by zap.
type zapLogger struct {
	z *zap.Logger
}

// NewLogger creates a new structured logger with the given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
// Each entry is one JSON object per line.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		ParseLogLevel(level).zapLevel(),
	)
	return &zapLogger{z: zap.New(core)}
}

// NewZapLogger adapts an existing zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		return NopLogger()
	}
	return &zapLogger{z: z}
}

// WithCommand returns a logger with command context attached.
func (l *zapLogger) WithCommand(meta CommandMeta) Logger {
	return &zapLogger{z: l.z.With(zapFields(commandFields(meta))...)}
}

func (l *zapLogger) Info(_ context.Context, msg string, fields ...Field) {
	l.z.Info(msg, zapFields(fields)...)
}

func (l *zapLogger) Warn(_ context.Context, msg string, fields ...Field) {
	l.z.Warn(msg, zapFields(fields)...)
}

func (l *zapLogger) Error(_ context.Context, msg string, fields ...Field) {
	l.z.Error(msg, zapFields(fields)...)
}

func (l *zapLogger) Debug(_ context.Context, msg string, fields ...Field) {
	l.z.Debug(msg, zapFields(fields)...)
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, redact(f)))
	}
	return out
}

// logrusLogger adapts a logrus entry.
type logrusLogger struct {
	e *logrus.Entry
}

// NewLogrusLogger adapts a logrus entry to Logger.
func NewLogrusLogger(e *logrus.Entry) Logger {
	if e == nil {
		return NopLogger()
	}
	return &logrusLogger{e: e}
}

func newLogrusWithWriter(level string, w io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
		},
	})
	l.SetLevel(ParseLogLevel(level).logrusLevel())
	return &logrusLogger{e: logrus.NewEntry(l)}
}

func (l *logrusLogger) WithCommand(meta CommandMeta) Logger {
	return &logrusLogger{e: l.e.WithFields(logrusFields(commandFields(meta)))}
}

func (l *logrusLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.entry(ctx, fields).Info(msg)
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.entry(ctx, fields).Warn(msg)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.entry(ctx, fields).Error(msg)
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.entry(ctx, fields).Debug(msg)
}

func (l *logrusLogger) entry(ctx context.Context, fields []Field) *logrus.Entry {
	e := l.e
	if ctx != nil {
		e = e.WithContext(ctx)
	}
	if len(fields) == 0 {
		return e
	}
	return e.WithFields(logrusFields(fields))
}

func logrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = redact(f)
	}
	return out
}

func commandFields(meta CommandMeta) []Field {
	fields := []Field{
		{Key: "command.id", Value: meta.CommandID()},
		{Key: "command.name", Value: meta.Name},
	}
	if meta.Group != "" {
		fields = append(fields, Field{Key: "command.group", Value: meta.Group})
	}
	if meta.Kind != "" {
		fields = append(fields, Field{Key: "command.kind", Value: meta.Kind})
	}
	return fields
}

// RedactedFields lists field keys whose values never reach a log sink.
// Command arguments are included: they routinely carry user data.
var RedactedFields = []string{
	"args",
	"input",
	"inputs",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
}

var redactedKeys = func() map[string]bool {
	m := make(map[string]bool, len(RedactedFields))
	for _, k := range RedactedFields {
		m[k] = true
	}
	return m
}()

// redact returns the value to log for f.
func redact(f Field) any {
	if redactedKeys[f.Key] {
		return "[REDACTED]"
	}
	return f.Value
}

type noopLogger struct{}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) WithCommand(CommandMeta) Logger        { return l }

var (
	_ Logger = (*zapLogger)(nil)
	_ Logger = (*logrusLogger)(nil)
	_ Logger = noopLogger{}
)
