// Package logger is the process-wide structured logger. It wraps log/slog
// with a colored text handler for terminals, a JSON handler for machines,
// secret redaction on every attribute and handshake-scoped context fields.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, bool) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l, true
		}
	}
	return 0, false
}

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path; empty keeps the current output
}

// sink is the active destination together with the handler writing to it.
type sink struct {
	w      io.Writer
	closer io.Closer // set when the logger opened w itself
	color  bool
	json   bool
	log    *slog.Logger
}

var (
	// level is shared by every handler, so SetLevel never rebuilds one.
	level = new(slog.LevelVar)

	mu  sync.RWMutex
	cur *sink
)

func init() {
	level.Set(slog.LevelInfo)
	install(&sink{w: os.Stderr, color: isTerminal(os.Stderr.Fd())})
}

// install builds the handler for s and makes it current. A file opened
// for the previous sink is closed unless s reuses it.
func install(s *sink) {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}
	if s.json {
		s.log = slog.New(slog.NewJSONHandler(s.w, opts))
	} else {
		s.log = slog.New(NewColorTextHandler(s.w, opts, s.color))
	}

	mu.Lock()
	old := cur
	cur = s
	mu.Unlock()

	if old != nil && old.closer != nil && old.closer != s.closer {
		_ = old.closer.Close()
	}
}

func current() *sink {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

// Init applies cfg. Output is "stdout", "stderr" or a file path opened
// for appending.
func Init(cfg Config) error {
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}

	next := *current()
	if cfg.Format != "" {
		switch strings.ToLower(cfg.Format) {
		case "json":
			next.json = true
		case "text":
			next.json = false
		}
	}

	switch out := strings.ToLower(cfg.Output); out {
	case "":
	case "stdout", "stderr":
		f := os.Stdout
		if out == "stderr" {
			f = os.Stderr
		}
		next.w, next.closer, next.color = f, nil, isTerminal(f.Fd())
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file %q: %w", cfg.Output, err)
		}
		next.w, next.closer, next.color = f, f, false
	}

	install(&next)
	return nil
}

// InitWithWriter sends output to w. Empty level or format keep the
// current setting.
func InitWithWriter(w io.Writer, lvl, format string, enableColor bool) {
	if lvl != "" {
		SetLevel(lvl)
	}
	next := sink{w: w, color: enableColor, json: current().json}
	if format != "" {
		next.json = strings.EqualFold(format, "json")
	}
	install(&next)
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		level.Set(l.toSlog())
	}
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(format string) {
	var json bool
	switch strings.ToLower(format) {
	case "json":
		json = true
	case "text":
	default:
		return
	}
	next := *current()
	if next.json == json {
		return
	}
	next.json = json
	install(&next)
}

func logAt(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if lvl < level.Level() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	current().log.Log(ctx, lvl, msg, appendContextFields(ctx, args)...)
}

// Debug logs msg with alternating key/value args.
func Debug(msg string, args ...any) { logAt(context.Background(), slog.LevelDebug, msg, args) }

// Info logs msg with alternating key/value args.
func Info(msg string, args ...any) { logAt(context.Background(), slog.LevelInfo, msg, args) }

// Warn logs msg with alternating key/value args.
func Warn(msg string, args ...any) { logAt(context.Background(), slog.LevelWarn, msg, args) }

// Error logs msg with alternating key/value args.
func Error(msg string, args ...any) { logAt(context.Background(), slog.LevelError, msg, args) }

// DebugCtx is Debug with the LogContext fields of ctx prepended.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, args)
}

// InfoCtx is Info with the LogContext fields of ctx prepended.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, args)
}

// WarnCtx is Warn with the LogContext fields of ctx prepended.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, args)
}

// ErrorCtx is Error with the LogContext fields of ctx prepended.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelError, msg, args)
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := [...]struct {
		key string
		val any
		set bool
	}{
		{KeyTraceID, lc.TraceID, lc.TraceID != ""},
		{KeySpanID, lc.SpanID, lc.SpanID != ""},
		{KeySessionID, lc.SessionID, lc.SessionID != ""},
		{KeyMechanism, lc.Mechanism, lc.Mechanism != ""},
		{KeyRole, lc.Role, lc.Role != ""},
		{KeyRound, lc.Round, lc.Round != 0},
		{KeyPeer, lc.Peer, lc.Peer != ""},
	}
	out := make([]any, 0, 2*len(fields)+len(args))
	for _, f := range fields {
		if f.set {
			out = append(out, f.key, f.val)
		}
	}
	return append(out, args...)
}

// With returns a logger with args bound to every record.
func With(args ...any) *slog.Logger {
	return current().log.With(args...)
}

// Duration returns the time elapsed since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
