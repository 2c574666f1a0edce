package ucpool

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	p := newTestPool(t, newFakeConnector(), testConfig())
	ctx := context.Background()

	metrics, err := p.Metrics("postgres_main")
	require.NoError(t, err)
	assert.Equal(t, 14, metrics.Len())

	registry := prometheus.NewRegistry()
	require.NoError(t, metrics.Registrate(registry))

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Close()

	metrics.Update(ctx)

	expected := `
# HELP postgres_main_in_use postgres_main connections lent out right now
# TYPE postgres_main_in_use gauge
postgres_main_in_use 1
# HELP postgres_main_max_size postgres_main max connections
# TYPE postgres_main_max_size gauge
postgres_main_max_size 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"postgres_main_in_use", "postgres_main_max_size"))
}
