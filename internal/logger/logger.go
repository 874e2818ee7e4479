// Package logger provides the structured logging this repository's dispatch
// and invariant layers use, wrapping log/slog with a TRACE level below
// slog's built-in Debug and a choice of JSON or human-readable text output.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// levelTrace sits one step below slog.LevelDebug so call-log records can be
// filtered out independently of ordinary debug logging.
const levelTrace = slog.LevelDebug - 4

type loggerFactory struct {
	format string
	prefix string
}

var defaultLoggerFactory = &loggerFactory{format: "text"}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, new(slog.LevelVar), ""))

// textHandler renders "time=\"...\" severity=X message=\"Y\"" lines, matching
// the format gcsfuse's own logger test suite checks for byte-for-byte.
type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format("2006/01/02 15:04:05.000000"), severityName(r.Level), h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler       { return h }

// jsonHandler renders a flat {"timestamp":{"seconds":...,"nanos":...},
// "severity":"X","message":"Y"} document per line.
type jsonHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":\"%s\",\"message\":\"%s\"}\n",
		r.Time.Unix(), r.Time.Nanosecond(), severityName(r.Level), h.prefix+r.Message)
	return err
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler       { return h }

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "json" {
		return &jsonHandler{w: w, level: level, prefix: prefix}
	}
	return &textHandler{w: w, level: level, prefix: prefix}
}

func severityName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return TRACE
	case level < slog.LevelInfo:
		return DEBUG
	case level < slog.LevelWarn:
		return INFO
	case level < slog.LevelError:
		return WARNING
	default:
		return ERROR
	}
}

func slogLevel(severity string) slog.Level {
	switch severity {
	case TRACE:
		return levelTrace
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARNING:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case OFF:
		return slog.LevelError + 100
	default:
		return slog.LevelInfo
	}
}

func setLoggingLevel(severity string, v *slog.LevelVar) {
	v.Set(slogLevel(severity))
}

// Init reconfigures the package-level logger for production use: format is
// "text" or "json", severity is one of the level constants above, and if
// logFile is non-empty output is routed through a lumberjack-rotated,
// AsyncLogger-buffered file sink instead of stderr.
func Init(format, severity, logFile string) (io.Closer, error) {
	defaultLoggerFactory.format = format

	var w io.Writer = os.Stderr
	var closer io.Closer
	if logFile != "" {
		lj := &lumberjack.Logger{Filename: logFile, MaxBackups: 10, Compress: true, MaxSize: 512}
		async := NewAsyncLogger(lj, 4096)
		w = async
		closer = async
	}

	levelVar := new(slog.LevelVar)
	setLoggingLevel(severity, levelVar)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, levelVar, ""))
	return closer, nil
}

func log(level slog.Level, format string, args ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { log(levelTrace, format, args...) }
func Debugf(format string, args ...any) { log(slog.LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log(slog.LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log(slog.LevelWarn, format, args...) }
func Errorf(format string, args ...any) { log(slog.LevelError, format, args...) }
