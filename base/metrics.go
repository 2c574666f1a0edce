package base

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type MetricGateway interface {
	prometheus.Collector
}

// MetricFunc refreshes metric before it is collected.
type MetricFunc func(ctx context.Context, metric MetricGateway) error

// MetricOptions descrbes struct with options for metrics
type MetricOptions struct {
	// Metric name
	Name string
	// Metric is a metric
	Metric MetricGateway
	// Func is a func for update metric, nil for metrics updated by
	// their owners
	Func MetricFunc
}

type GaugeFunc func(ctx context.Context) (float64, error)

// MetricName builds a metric name from the enity full name and a
// human readable postfix: "postgres_main" and "idle connections" give
// "postgres_main_idle_connections".
func MetricName(fullName, postfix string) string {
	return fullName + "_" + strings.ReplaceAll(postfix, " ", "_")
}

func NewGaugeOptions(fullName, postfix, help string, f GaugeFunc) *MetricOptions {
	name := MetricName(fullName, postfix)
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: fullName + " " + help,
	})

	return &MetricOptions{
		Name:   name,
		Metric: gauge,
		Func: func(ctx context.Context, m MetricGateway) error {
			g, ok := m.(prometheus.Gauge)
			if !ok {
				return ErrFailedTypecastMetric
			}
			v, err := f(ctx)
			if err != nil {
				return errors.Wrap(err, "metric handler")
			}
			g.Set(v)

			return nil
		},
	}
}

func NewCounterOptions(fullName, postfix, help string) *MetricOptions {
	name := MetricName(fullName, postfix)
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: fullName + " " + help,
	})

	return &MetricOptions{
		Name:   name,
		Metric: counter,
	}
}

func NewHistogramVecOptions(fullName, postfix, help string, labels []string) *MetricOptions {
	name := MetricName(fullName, postfix)
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: name,
			Help: fullName + " " + help,
		},
		labels,
	)

	return &MetricOptions{
		Name:   name,
		Metric: histogram,
	}
}

func NewCounterVecOptions(fullName, postfix, help string, labels []string) *MetricOptions {
	name := MetricName(fullName, postfix)
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: name,
			Help: fullName + " " + help,
		},
		labels,
	)

	return &MetricOptions{
		Name:   name,
		Metric: counter,
	}
}

// MapMetricsOptions is a named set of metrics of one or more enities.
type MapMetricsOptions struct {
	mu      sync.Mutex
	options map[string]*MetricOptions
}

func NewMapMetricsOptions() *MapMetricsOptions {
	return &MapMetricsOptions{
		options: make(map[string]*MetricOptions),
	}
}

func (mmo *MapMetricsOptions) Len() int {
	mmo.mu.Lock()
	defer mmo.mu.Unlock()

	return len(mmo.options)
}

func (mmo *MapMetricsOptions) Append(src *MapMetricsOptions) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	mmo.mu.Lock()
	defer mmo.mu.Unlock()

	for k, m := range src.options {
		if _, ok := mmo.options[k]; ok {
			return errors.Wrapf(ErrConflictName, "name: %s", k)
		}

		mmo.options[k] = m
	}

	return nil
}

func (mmo *MapMetricsOptions) Add(options *MetricOptions) error {
	if options == nil {
		return ErrOptionsIsNil
	}

	if options.Name == "" {
		return ErrEmptyOptionsName
	}

	mmo.mu.Lock()
	defer mmo.mu.Unlock()

	if _, ok := mmo.options[options.Name]; ok {
		return errors.Wrapf(ErrConflictName, "name: %s", options.Name)
	}

	mmo.options[options.Name] = options

	return nil
}

func (mmo *MapMetricsOptions) AddGauge(fullName, postfix, help string, f GaugeFunc) (prometheus.Gauge, error) {
	if f == nil {
		return nil, ErrFuncIsNil
	}

	metricOpts := NewGaugeOptions(fullName, postfix, help, f)
	if err := mmo.Add(metricOpts); err != nil {
		return nil, errors.Wrap(err, "add to metrics map")
	}

	gauge, ok := metricOpts.Metric.(prometheus.Gauge)
	if !ok {
		return nil, ErrFailedTypecastMetric
	}

	return gauge, nil
}

func (mmo *MapMetricsOptions) AddCounter(fullName, postfix, help string) (prometheus.Counter, error) {
	metricOpts := NewCounterOptions(fullName, postfix, help)
	if err := mmo.Add(metricOpts); err != nil {
		return nil, errors.Wrap(err, "add to metrics map")
	}

	counter, ok := metricOpts.Metric.(prometheus.Counter)
	if !ok {
		return nil, ErrFailedTypecastMetric
	}

	return counter, nil
}

func (mmo *MapMetricsOptions) AddHistogramVec(fullName, postfix, help string, labels []string) (*prometheus.HistogramVec, error) {
	metricOpts := NewHistogramVecOptions(fullName, postfix, help, labels)
	if err := mmo.Add(metricOpts); err != nil {
		return nil, errors.Wrap(err, "add to metrics map")
	}

	histogram, ok := metricOpts.Metric.(*prometheus.HistogramVec)
	if !ok {
		return nil, ErrFailedTypecastMetric
	}

	return histogram, nil
}

func (mmo *MapMetricsOptions) AddCounterVec(fullName, postfix, help string, labels []string) (*prometheus.CounterVec, error) {
	metricOpts := NewCounterVecOptions(fullName, postfix, help, labels)
	if err := mmo.Add(metricOpts); err != nil {
		return nil, errors.Wrap(err, "add to metrics map")
	}

	counter, ok := metricOpts.Metric.(*prometheus.CounterVec)
	if !ok {
		return nil, ErrFailedTypecastMetric
	}

	return counter, nil
}

// Registrate registers every metric in register.
func (mmo *MapMetricsOptions) Registrate(register prometheus.Registerer) error {
	mmo.mu.Lock()
	defer mmo.mu.Unlock()

	for _, m := range mmo.options {
		if err := register.Register(m.Metric); err != nil {
			return errors.Wrapf(err, "register metric %q", m.Name)
		}
	}

	return nil
}

// Update runs update functions of every metric. Failed updates are
// logged and do not stop the others.
func (mmo *MapMetricsOptions) Update(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	mmo.mu.Lock()
	defer mmo.mu.Unlock()

	for _, m := range mmo.options {
		if m.Func == nil {
			continue
		}
		if err := m.Func(ctx, m.Metric); err != nil {
			logger.Err(err).Str("metric", m.Name).Msg("update metric")
		}
	}
}

type MetricsStorage struct {
	metrics *MapMetricsOptions
}

func NewMetricsStorage() *MetricsStorage {
	return &MetricsStorage{
		metrics: NewMapMetricsOptions(),
	}
}

func (s *MetricsStorage) GetMetrics() *MapMetricsOptions {
	return s.metrics
}

// MetricsHandler refreshes metrics on every scrape before gathering
// them from gatherer.
func (s *MetricsStorage) MetricsHandler(ctx context.Context, gatherer prometheus.Gatherer) http.Handler {
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Update(ctx)
		handler.ServeHTTP(w, r)
	})
}
