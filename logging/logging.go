// Package logging builds the zerolog logger and carries it through contexts.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string `default:"info" validate:"oneof=debug info warn error"`
	Console   bool
	Component string
}

type ctxKey string

const (
	ctxStage  ctxKey = "stage"
	ctxSource ctxKey = "source"
)

// WithStage tags log lines written under ctx with the pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxStage, stage)
}

// WithSource tags log lines written under ctx with the address being read.
func WithSource(ctx context.Context, source string) context.Context {
	if source == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxSource, source)
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger()
}

// Into attaches logger to ctx.
func Into(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger attached to ctx with the stage and source
// fields applied. Without an attached logger nothing is written.
func FromContext(ctx context.Context) *zerolog.Logger {
	base := zerolog.Ctx(ctx)
	w := base.With()
	if s, ok := ctx.Value(ctxStage).(string); ok && s != "" {
		w = w.Str("stage", s)
	}
	if s, ok := ctx.Value(ctxSource).(string); ok && s != "" {
		w = w.Str("source", s)
	}
	l := w.Logger()
	return &l
}
