package ucpool

import (
	"context"

	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/base"
)

type statFunc func(s *Stats) float64

// Metrics describes pool statistics as gauges named after fullName.
// Gauges read fresh Stats on every update.
// nolint:funlen // long list of metrics
func (p *Pool) Metrics(fullName string) (*base.MapMetricsOptions, error) {
	metrics := base.NewMapMetricsOptions()

	gauges := []struct {
		postfix string
		help    string
		value   statFunc
	}{
		{"max size", "max connections", func(s *Stats) float64 { return float64(s.MaxSize) }},
		{"open connections", "idle, lent out and pending connections", func(s *Stats) float64 { return float64(s.Open) }},
		{"idle", "idle connections", func(s *Stats) float64 { return float64(s.Idle) }},
		{"in use", "connections lent out right now", func(s *Stats) float64 { return float64(s.Active) }},
		{"pending", "connections being opened", func(s *Stats) float64 { return float64(s.Pending) }},
		{"waiting", "queued acquisitions", func(s *Stats) float64 { return float64(s.Waiting) }},
		{"wait count", "connections waited for", func(s *Stats) float64 { return float64(s.WaitCount) }},
		{"wait duration seconds", "time blocked waiting for connections", func(s *Stats) float64 { return s.WaitDuration.Seconds() }},
		{"timeouts", "acquisitions that timed out", func(s *Stats) float64 { return float64(s.TimeoutCount) }},
		{"create errors", "failed connection attempts", func(s *Stats) float64 { return float64(s.CreateErrors) }},
		{"validation failed", "connections discarded by validation", func(s *Stats) float64 { return float64(s.ValidationFailed) }},
		{"invalid closed", "connections closed as invalid", func(s *Stats) float64 { return float64(s.InvalidClosed) }},
		{"max idle closed", "connections closed due to max idle time", func(s *Stats) float64 { return float64(s.MaxIdleTimeClosed) }},
		{"max life time closed", "connections closed due to max lifetime", func(s *Stats) float64 { return float64(s.MaxLifetimeClosed) }},
	}

	for _, g := range gauges {
		value := g.value
		if _, err := metrics.AddGauge(fullName, g.postfix, g.help, func(ctx context.Context) (float64, error) {
			stats := p.Stats()
			return value(&stats), nil
		}); err != nil {
			return nil, errors.Wrap(err, "add gauge metric")
		}
	}

	return metrics, nil
}
