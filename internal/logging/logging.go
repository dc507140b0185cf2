// Package logging wraps a process-wide zap logger for the server, the browser
// engine and the CLI.
package logging

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader is read from and echoed on every HTTP exchange.
const RequestIDHeader = "X-Request-ID"

type (
	ctxKey       struct{}
	requestIDKey struct{}
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config selects level, encoding and destination.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json (default) or console
	OutputPath string // stdout (default), stderr or a file path
}

// Init builds the process logger from cfg. An unknown level falls back to info.
func Init(cfg Config) error {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	}
	zc.EncoderConfig.TimeKey = "ts"

	level.SetLevel(parseLevel(cfg.Level, zapcore.InfoLevel))
	zc.Level = level

	if out := cfg.OutputPath; out != "" {
		zc.OutputPaths = []string{out}
		zc.ErrorOutputPaths = []string{out}
	}

	l, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	Replace(l)
	return nil
}

func parseLevel(s string, fallback zapcore.Level) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return fallback
	}
	return l
}

// SetLevel changes the level at runtime. Unknown names are ignored.
func SetLevel(name string) {
	level.SetLevel(parseLevel(name, level.Level()))
}

// Replace installs l as the process logger. Tests use it with an observer core.
func Replace(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	return current().Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named returns a child logger for one component, such as "reconcile".
func Named(component string) *zap.Logger {
	return current().Named(component)
}

// From returns the request-scoped logger stored by Middleware, or the process
// logger.
func From(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return current()
}

// RequestID reports the id Middleware assigned to the request in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { current().Fatal(msg, fields...) }

// statusRecorder keeps what the handler wrote for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush passes through so event streams are not buffered.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware tags each request with an id and writes one access log entry when
// it finishes. Health checks log at debug.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		reqLog := current().With(zap.String("request_id", id))
		ctx := context.WithValue(r.Context(), ctxKey{}, reqLog)
		ctx = context.WithValue(ctx, requestIDKey{}, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logAt := reqLog.Info
		switch {
		case rec.status >= 500:
			logAt = reqLog.Error
		case r.URL.Path == "/health":
			logAt = reqLog.Debug
		}
		logAt("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Field helpers so callers need not import zap.

func String(key, val string) zap.Field { return zap.String(key, val) }
func Int(key string, val int) zap.Field { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }
func Err(err error) zap.Field { return zap.Error(err) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Stringer(key string, val interface{ String() string }) zap.Field { return zap.Stringer(key, val) }

// IDs logs a list of item ids, truncated to the first ten.
func IDs(key string, ids []string) zap.Field {
	if len(ids) > 10 {
		return zap.Strings(key, append(ids[:10:10], "..."))
	}
	return zap.Strings(key, ids)
}
