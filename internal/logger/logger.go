// Package logger provides structured logging for the crawler.
//
// There is no package-level logger: each crawl run builds its own and hands
// component loggers to the parts it constructs.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zl zerolog.Logger

	// file is only set on the root logger returned by Open.
	file      io.Closer
	closeOnce sync.Once
	closeErr  error
}

// Config holds logger configuration.
type Config struct {
	Level      Level
	Pretty     bool // Use console writer (colored output)
	Output     io.Writer
	TimeFormat string
	Component  string // Component name (e.g., "crawler", "processor", "rotation")

	// File receives every entry as a JSON line in addition to Output.
	// Only Open honors it.
	File string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Pretty:     true,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// LevelFor maps the CLI verbosity switches to a level: debug wins over
// verbose, and a quiet run only reports warnings.
func LevelFor(verbose, debug bool) Level {
	switch {
	case debug:
		return DebugLevel
	case verbose:
		return InfoLevel
	default:
		return WarnLevel
	}
}

// New creates a logger writing to cfg.Output.
func New(cfg Config) *Logger {
	return build(cfg, consoleWriter(cfg))
}

// Open creates a logger like New that also appends JSON lines to cfg.File.
// The caller closes the returned logger.
func Open(cfg Config) (*Logger, error) {
	if cfg.File == "" {
		return New(cfg), nil
	}

	if dir := filepath.Dir(cfg.File); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := build(cfg, zerolog.MultiLevelWriter(consoleWriter(cfg), f))
	l.file = f
	return l, nil
}

func consoleWriter(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.Pretty {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
}

func build(cfg Config, w io.Writer) *Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	ctx := zerolog.New(w).Level(cfg.Level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return &Logger{zl: ctx.Logger()}
}

// Close closes the log file opened by Open. It is a no-op otherwise and
// safe to call more than once.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		l.closeErr = l.file.Close()
	})
	return l.closeErr
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (l *Logger) with(ctx zerolog.Context) *Logger {
	return &Logger{zl: ctx.Logger()}
}

// WithComponent returns a logger tagged with the component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(l.zl.With().Str("component", component))
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(l.zl.With().Interface(key, value))
}

// WithURL returns a logger tagged with a page URL.
func (l *Logger) WithURL(url string) *Logger {
	return l.with(l.zl.With().Str("url", url))
}

// WithDepth returns a logger tagged with a crawl depth.
func (l *Logger) WithDepth(depth int) *Logger {
	return l.with(l.zl.With().Int("depth", depth))
}

// WithIdentity returns a logger tagged with the proxy and user agent of a
// browsing session. An empty proxy is logged as "direct".
func (l *Logger) WithIdentity(proxyServer, userAgent string) *Logger {
	if proxyServer == "" {
		proxyServer = "direct"
	}
	return l.with(l.zl.With().Str("proxy", proxyServer).Str("user_agent", userAgent))
}

// WithError returns a logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return l.with(l.zl.With().Err(err))
}

func (l *Logger) Debug(msg string)                          { l.zl.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                           { l.zl.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                           { l.zl.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                          { l.zl.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// Event starts an entry at level. Levels outside debug..error log at info.
func (l *Logger) Event(level Level) *zerolog.Event {
	if level < DebugLevel || level > ErrorLevel {
		level = InfoLevel
	}
	return l.zl.WithLevel(level)
}

// PageEvent starts a page-related event with standard fields.
func (l *Logger) PageEvent(level Level, url string, depth int) *zerolog.Event {
	return l.Event(level).
		Str("url", url).
		Int("depth", depth)
}

// RotationEvent logs an identity rotation after requests pages on the
// previous identity.
func (l *Logger) RotationEvent(proxyServer, userAgent string, requests int) {
	l.WithIdentity(proxyServer, userAgent).zl.Info().
		Int("requests", requests).
		Msg("Rotated identity")
}

// ErrorEvent logs a failed operation on url.
func (l *Logger) ErrorEvent(err error, url string, operation string) {
	l.zl.Error().
		Err(err).
		Str("url", url).
		Str("operation", operation).
		Msg("Operation failed")
}

// StatsEvent logs the end-of-run statistics.
func (l *Logger) StatsEvent(stats map[string]interface{}) {
	l.zl.Info().Fields(stats).Msg("Crawl statistics")
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.zl = l.zl.Level(level)
}

// ParseLevel parses a level name such as "debug" or "warn".
func ParseLevel(levelStr string) (Level, error) {
	return zerolog.ParseLevel(levelStr)
}
