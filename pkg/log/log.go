// Package log provides the structured logging facade used across the
// orchestrator: a thin, chainable wrapper around zerolog so call sites read
// as log.WithField("k", v).WithError(err).Error("message") instead of
// threading a *zerolog.Logger through every function signature.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// InitLogger (re)configures the package-level logger. pretty selects a
// human-readable console writer (for interactive CLI use); when false, w
// receives raw JSON lines (for machine consumption or file output).
func InitLogger(w io.Writer, level zerolog.Level, pretty bool) {
	mu.Lock()
	defer mu.Unlock()

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Logger returns the current package-level zerolog.Logger for callers that
// need direct access (e.g. to pass into an http.Server or grpc interceptor).
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Entry accumulates structured fields and an optional error before a level
// method is called to actually emit the line.
type Entry struct {
	ctx zerolog.Context
	err error
}

func newEntry() Entry {
	mu.RLock()
	defer mu.RUnlock()
	return Entry{ctx: logger.With()}
}

// WithField starts a new Entry carrying a single structured field.
func WithField(key string, value interface{}) Entry {
	return newEntry().WithField(key, value)
}

// WithFields starts a new Entry carrying a batch of structured fields.
func WithFields(fields map[string]interface{}) Entry {
	return newEntry().WithFields(fields)
}

// WithError starts a new Entry carrying an error.
func WithError(err error) Entry {
	return newEntry().WithError(err)
}

// WithField adds another structured field to the entry.
func (e Entry) WithField(key string, value interface{}) Entry {
	e.ctx = e.ctx.Interface(key, value)
	return e
}

// WithFields merges a batch of structured fields into the entry.
func (e Entry) WithFields(fields map[string]interface{}) Entry {
	e.ctx = e.ctx.Fields(fields)
	return e
}

// WithError attaches an error to the entry. The last error set wins.
func (e Entry) WithError(err error) Entry {
	e.err = err
	return e
}

func (e Entry) event(ev *zerolog.Event) *zerolog.Event {
	if e.err != nil {
		ev = ev.Err(e.err)
	}
	return ev
}

// Debug emits the entry at debug level.
func (e Entry) Debug(msg string) {
	l := e.ctx.Logger()
	e.event(l.Debug()).Msg(msg)
}

// Info emits the entry at info level.
func (e Entry) Info(msg string) {
	l := e.ctx.Logger()
	e.event(l.Info()).Msg(msg)
}

// Warn emits the entry at warn level.
func (e Entry) Warn(msg string) {
	l := e.ctx.Logger()
	e.event(l.Warn()).Msg(msg)
}

// Error emits the entry at error level.
func (e Entry) Error(msg string) {
	l := e.ctx.Logger()
	e.event(l.Error()).Msg(msg)
}

// Fatal emits the entry at fatal level and terminates the process, matching
// zerolog's own Fatal semantics.
func (e Entry) Fatal(msg string) {
	l := e.ctx.Logger()
	e.event(l.Fatal()).Msg(msg)
}

// Debug logs msg at debug level with no extra fields.
func Debug(msg string) { newEntry().Debug(msg) }

// Info logs msg at info level with no extra fields.
func Info(msg string) { newEntry().Info(msg) }

// Warn logs msg at warn level with no extra fields.
func Warn(msg string) { newEntry().Warn(msg) }

// Error logs msg at error level with no extra fields.
func Error(msg string) { newEntry().Error(msg) }
