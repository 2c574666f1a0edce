// Package log builds the zerolog logger shared through context.Context.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/soldatov-s/poolingex/base"
)

const metricsPrefix = "logger"

type Logger struct {
	zerolog zerolog.Logger
	*base.MetricsStorage
}

type Option func(*options)

type options struct {
	out io.Writer
}

// WithOutput redirects log output, os.Stdout by default.
func WithOutput(out io.Writer) Option {
	return func(o *options) {
		o.out = out
	}
}

func NewLogger(ctx context.Context, config *Config, opts ...Option) (*Logger, error) {
	o := &options{out: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	config = config.SetDefault()
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return nil, errors.Wrap(err, "parse level")
	}

	zerolog.SetGlobalLevel(level)
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	output := buildLoggerOutput(o.out, config.HumanFriendly, config.NoColoredOutput)

	logger := &Logger{
		MetricsStorage: base.NewMetricsStorage(),
		zerolog:        zerolog.New(output).With().Timestamp().Logger(),
	}

	if err := logger.buildMetrics(ctx); err != nil {
		return nil, errors.Wrap(err, "build metrics")
	}

	return logger, nil
}

func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zerolog
}

// WithContext returns a copy of ctx carrying the logger, for
// zerolog.Ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zerolog.WithContext(ctx)
}

func buildLoggerOutput(out io.Writer, isHumanFriendly, isNoColoredOutput bool) io.Writer {
	if !isHumanFriendly {
		return out
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    isNoColoredOutput,
		TimeFormat: time.RFC3339,
	}

	output.FormatLevel = func(i interface{}) string {
		v, ok := i.(string)
		if !ok {
			return "| ??? |"
		}

		return fmt.Sprintf("| %-5s |", strings.ToUpper(v))
	}

	return output
}

func (l *Logger) buildMetrics(_ context.Context) error {
	warnsMetric, err := l.MetricsStorage.GetMetrics().AddCounter(metricsPrefix, "warns total", "How many warnings occurred.")
	if err != nil {
		return errors.Wrap(err, "add counter metric")
	}
	l.zerolog = l.zerolog.Hook(NewLevelCounterHook(zerolog.WarnLevel, warnsMetric))

	errorsMetric, err := l.MetricsStorage.GetMetrics().AddCounter(metricsPrefix, "errors total", "How many errors occurred.")
	if err != nil {
		return errors.Wrap(err, "add counter metric")
	}
	l.zerolog = l.zerolog.Hook(NewLevelCounterHook(zerolog.ErrorLevel, errorsMetric))

	return nil
}
