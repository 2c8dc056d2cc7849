// Package obslog wraps zerolog with request/task correlation: a Logger
// value carries accumulated fields, WithCtx/WithContext pull correlation
// IDs out of a context.Context or echo.Context, and a middleware logs
// request start/completion uniformly.
package obslog

import (
	"context"
	"io"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with task/request correlation.
type Logger struct {
	log zerolog.Logger
}

// New creates a JSON structured logger writing to w, tagged with service.
func New(w io.Writer, service string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	log := zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	return &Logger{log: log}
}

// NewConsole creates a human-readable console logger for local development.
func NewConsole(service string) *Logger {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().
		Timestamp().Str("service", service).Logger()
	return &Logger{log: log}
}

type ctxKey string

const (
	ctxKeyTaskID    ctxKey = "task_id"
	ctxKeyVersion   ctxKey = "version"
	ctxKeyRequestID ctxKey = "request_id"
)

// ContextWithTask attaches task_id/version to ctx so every log line
// emitted while a pipeline runs carries them without threading a Logger
// through every call.
func ContextWithTask(ctx context.Context, taskID, version string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyTaskID, taskID)
	ctx = context.WithValue(ctx, ctxKeyVersion, version)
	return ctx
}

// WithCtx returns a Logger with task_id/version/request_id pulled from ctx.
func (l *Logger) WithCtx(ctx context.Context) *Logger {
	log := l.log
	if v, ok := ctx.Value(ctxKeyTaskID).(string); ok && v != "" {
		log = log.With().Str("task_id", v).Logger()
	}
	if v, ok := ctx.Value(ctxKeyVersion).(string); ok && v != "" {
		log = log.With().Str("version", v).Logger()
	}
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok && v != "" {
		log = log.With().Str("request_id", v).Logger()
	}
	return &Logger{log: log}
}

// WithContext returns a Logger tagged with the echo request ID.
func (l *Logger) WithContext(c echo.Context) *Logger {
	log := l.log
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		log = log.With().Str("request_id", id).Logger()
	}
	return &Logger{log: log}
}

// WithField returns a Logger with one extra structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{log: l.log.With().Interface(key, value).Logger()}
}

func (l *Logger) Debug(msg string)                         { l.log.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...any)         { l.log.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                           { l.log.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)          { l.log.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                           { l.log.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...any)          { l.log.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                          { l.log.Error().Msg(msg) }
func (l *Logger) ErrorWithErr(err error, msg string)        { l.log.Error().Err(err).Msg(msg) }

// Zerolog returns the underlying zerolog.Logger for advanced usage.
func (l *Logger) Zerolog() *zerolog.Logger { return &l.log }

// Middleware logs every request's start and completion, recording the
// request-scoped Logger (base tagged with the request ID) in the echo
// context under "logger" for handlers that want
// to emit additional structured events.
func Middleware(base *Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			logger := base.WithContext(c)
			c.Set("logger", logger)

			logger.Info("request started: " + c.Request().Method + " " + c.Request().RequestURI)
			err := next(c)

			status := c.Response().Status
			switch {
			case err != nil:
				logger.ErrorWithErr(err, "request failed")
			case status >= 500:
				logger.Error("request completed with server error")
			case status >= 400:
				logger.Warn("request completed with client error")
			default:
				logger.Info("request completed")
			}
			return err
		}
	}
}

// FromEcho extracts the request-scoped Logger stashed by Middleware,
// falling back to a bare stdout logger if none was set.
func FromEcho(c echo.Context) *Logger {
	if v := c.Get("logger"); v != nil {
		if l, ok := v.(*Logger); ok {
			return l
		}
	}
	return New(os.Stdout, "kg-api-server")
}
