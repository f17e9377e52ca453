// Package logging provides the leveled, structured logger used across sleuth.
//
// Loggers are named after the component that owns them and can be tuned per
// component at startup:
//
//	logging.Initialize("info", map[string]string{"analysis.*": "debug"})
//	logger := logging.GetLogger("analysis.judge")
//	logger.InfoWithFields("judged candidates",
//	    logging.Field("candidates", 5),
//	    logging.Field("kept", 2),
//	)
//
// Incident descriptions are free text supplied by responders. Log them through
// Snippet at INFO and above so that a full ticket body only reaches the output
// at DEBUG.
//
// When a context carries an OpenTelemetry span (or explicit trace/span ids set
// with TraceIDKey/SpanIDKey), loggers derived with WithContext attach trace_id
// and span_id to every line.
//
// Logger values are immutable. The With* methods return copies that are safe
// to share between goroutines.
package logging

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
)

var (
	defaultLevel atomic.Int32
	// exitFunc is called by Fatal. Tests replace it.
	exitFunc = os.Exit
)

func init() {
	defaultLevel.Store(int32(INFO))
}

// Initialize sets the default level and optional per-package overrides.
// An unknown default level falls back to INFO.
func Initialize(level string, packageLevels ...map[string]string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		parsed = INFO
	}
	defaultLevel.Store(int32(parsed))

	if len(packageLevels) > 0 {
		return SetPackageLogLevels(packageLevels[0])
	}
	return nil
}

// Logger writes leveled lines for one named component.
type Logger struct {
	level  LogLevel
	name   string
	fields map[string]any
	ctx    context.Context
}

// GetLogger returns a logger named name at the current default level.
func GetLogger(name string) *Logger {
	return &Logger{
		level:  LogLevel(defaultLevel.Load()),
		name:   name,
		fields: map[string]any{},
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if override := GetPackageLogLevel(l.name); override != noLevel {
		return level >= override
	}
	return level >= l.level
}

func (l *Logger) printf(level LogLevel, msg string, args []any) {
	if !l.shouldLog(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.writeLog(level, msg, l.mergeFields(nil))
}

func (l *Logger) withFields(level LogLevel, msg string, fields []LogField) {
	if l.shouldLog(level) {
		l.writeLog(level, msg, l.mergeFields(fields))
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.printf(DEBUG, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.printf(INFO, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.printf(WARN, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.printf(ERROR, msg, args) }

// Fatal logs at FATAL and exits with status 1.
func (l *Logger) Fatal(msg string, args ...any) {
	if l.shouldLog(FATAL) {
		l.printf(FATAL, msg, args)
		exitFunc(1)
	}
}

// ErrorWithErr logs msg followed by " - err".
func (l *Logger) ErrorWithErr(msg string, err error, args ...any) {
	l.printf(ERROR, msg+" - %v", append(args, err))
}

func (l *Logger) DebugWithFields(msg string, fields ...LogField) { l.withFields(DEBUG, msg, fields) }
func (l *Logger) InfoWithFields(msg string, fields ...LogField)  { l.withFields(INFO, msg, fields) }
func (l *Logger) WarnWithFields(msg string, fields ...LogField)  { l.withFields(WARN, msg, fields) }
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) { l.withFields(ERROR, msg, fields) }

func (l *Logger) clone() *Logger {
	return &Logger{level: l.level, name: l.name, fields: cloneFields(l.fields), ctx: l.ctx}
}

// WithName returns a copy of the logger under a different name.
func (l *Logger) WithName(name string) *Logger {
	c := l.clone()
	c.name = name
	return c
}

// WithField returns a copy of the logger carrying key=value on every line.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a copy of the logger carrying the given fields.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	c := l.clone()
	for _, f := range fields {
		c.fields[f.Key] = f.Value
	}
	return c
}

// WithContext returns a copy of the logger that reads trace and span ids from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	c := l.clone()
	c.ctx = ctx
	return c
}

// mergeFields layers context ids, persistent fields and call-site fields.
// Later layers win on key collisions.
func (l *Logger) mergeFields(fields []LogField) map[string]any {
	fromCtx := extractContextFields(l.ctx)
	if len(fromCtx) == 0 && len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}
	merged := make(map[string]any, len(fromCtx)+len(l.fields)+len(fields))
	for k, v := range fromCtx {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return merged
}
