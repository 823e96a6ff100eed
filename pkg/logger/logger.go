package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jdziat/simple-lease-jobs/pkg/jobctx"
)

// Format represents logger output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat accepts "json" or "text" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("logger: invalid log format %q: must be %q or %q", s, FormatJSON, FormatText)
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logger: invalid log level %q: %w", s, err)
	}
	return l, nil
}

// Option configures logger creation.
type Option func(*config)

func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

func WithFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithOutput sets the output destination. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, attrs...)
	}
}

type config struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// New creates a configured slog.Logger.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		format: FormatText,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var h slog.Handler
	if cfg.format == FormatJSON {
		h = slog.NewJSONHandler(cfg.output, handlerOpts)
	} else {
		h = slog.NewTextHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		h = h.WithAttrs(cfg.attrs)
	}
	return slog.New(&jobHandler{next: h})
}

// SetAsDefault installs l as slog's default logger.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// jobHandler adds the running job's id and worker id from the record's context.
type jobHandler struct {
	next slog.Handler
}

func (h *jobHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *jobHandler) Handle(ctx context.Context, rec slog.Record) error {
	if ctx != nil {
		if id := jobctx.JobIDFromContext(ctx); id != "" {
			rec.AddAttrs(slog.String("job_id", id))
			if wid := jobctx.WorkerIDFromContext(ctx); wid != "" {
				rec.AddAttrs(slog.String("worker_id", wid))
			}
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *jobHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jobHandler{next: h.next.WithAttrs(attrs)}
}

func (h *jobHandler) WithGroup(name string) slog.Handler {
	return &jobHandler{next: h.next.WithGroup(name)}
}
