package ucpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acquireN borrows n connections and returns them all, leaving n idle.
func acquireN(t *testing.T, p *Pool, n int) []*fakeConn {
	t.Helper()

	conns := make([]*Conn, 0, n)
	for i := 0; i < n; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}

	raws := make([]*fakeConn, 0, n)
	for _, c := range conns {
		raws = append(raws, rawFake(t, c))
		require.NoError(t, c.Close())
	}

	return raws
}

func TestSweepEvictsIdleAboveMinIdle(t *testing.T) {
	clock := newFakeClock()
	connector := newFakeConnector()
	cfg := testConfig()
	cfg.MaxSize = 5
	cfg.MinIdle = 1
	cfg.MaxIdleTime = time.Minute
	p := newTestPool(t, connector, cfg, WithNowFunc(clock.Now))

	// The sweeper warms the pool up on start.
	waitFor(t, func() bool { return p.Stats().Idle == 1 })

	raws := acquireN(t, p, 3)
	require.Equal(t, 3, p.Stats().Idle)

	clock.Advance(2 * time.Minute)
	p.sweep(context.Background())

	s := p.Stats()
	checkInvariant(t, s)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 1, s.Open)
	assert.EqualValues(t, 2, s.MaxIdleTimeClosed)

	// Oldest returned go first; the most recently returned one stays.
	assert.True(t, raws[0].isClosed())
	assert.True(t, raws[1].isClosed())
	assert.False(t, raws[2].isClosed())

	// Never below MinIdle.
	clock.Advance(time.Hour)
	p.sweep(context.Background())
	s = p.Stats()
	assert.Equal(t, 1, s.Idle)
	assert.EqualValues(t, 2, s.MaxIdleTimeClosed)
	assert.Equal(t, 3, connector.numOpened())
}

func TestSweepKeepsRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxIdleTime = time.Minute
	p := newTestPool(t, newFakeConnector(), cfg, WithNowFunc(clock.Now))

	acquireN(t, p, 2)
	clock.Advance(30 * time.Second)
	p.sweep(context.Background())

	s := p.Stats()
	assert.Equal(t, 2, s.Idle)
	assert.EqualValues(t, 0, s.MaxIdleTimeClosed)
}

func TestSweepRetiresLifetimeAndRefills(t *testing.T) {
	clock := newFakeClock()
	connector := newFakeConnector()
	cfg := testConfig()
	cfg.MinIdle = 2
	cfg.MaxLifetime = time.Hour
	p := newTestPool(t, connector, cfg, WithNowFunc(clock.Now))

	waitFor(t, func() bool { return p.Stats().Idle == 2 })
	require.Equal(t, 2, connector.numOpened())

	clock.Advance(2 * time.Hour)
	p.sweep(context.Background())

	s := p.Stats()
	checkInvariant(t, s)
	assert.EqualValues(t, 2, s.MaxLifetimeClosed)
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, 2, s.Open)
	assert.Equal(t, 4, connector.numOpened())
	assert.Equal(t, 2, connector.numClosed())
}

func TestSweepLeavesLentConnections(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxIdleTime = time.Minute
	cfg.MaxLifetime = time.Hour
	p := newTestPool(t, newFakeConnector(), cfg, WithNowFunc(clock.Now))

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	raw := rawFake(t, c)

	clock.Advance(2 * time.Hour)
	p.sweep(context.Background())

	assert.False(t, raw.isClosed())
	assert.Equal(t, 1, p.Stats().Active)

	// Retired when it comes back instead.
	require.NoError(t, c.Close())
	assert.True(t, raw.isClosed())
}

func TestSweepExpiresOverdueWaiters(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, newFakeConnector(), &Config{MaxSize: 1, SweepInterval: time.Hour}, WithNowFunc(clock.Now))

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, errAcquire := p.AcquireTimeout(context.Background(), time.Minute)
		errs <- errAcquire
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	clock.Advance(2 * time.Minute)
	p.sweep(context.Background())

	assert.ErrorIs(t, <-errs, ErrAcquireTimeout)
	s := p.Stats()
	assert.Equal(t, 0, s.Waiting)
	assert.EqualValues(t, 1, s.TimeoutCount)

	require.NoError(t, held.Close())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestOverdueWaiterIsSkippedOnHandOff(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, newFakeConnector(), &Config{MaxSize: 1, SweepInterval: time.Hour}, WithNowFunc(clock.Now))

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, errAcquire := p.AcquireTimeout(context.Background(), time.Minute)
		errs <- errAcquire
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	clock.Advance(2 * time.Minute)
	require.NoError(t, held.Close())

	assert.ErrorIs(t, <-errs, ErrAcquireTimeout)
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestFillMinIdleStopsOnCreateError(t *testing.T) {
	connector := newFakeConnector()
	connector.setConnectErr(errFakeConnect)
	cfg := testConfig()
	cfg.MinIdle = 2
	p := newTestPool(t, connector, cfg)

	waitFor(t, func() bool { return p.Stats().CreateErrors == 1 })

	connector.setConnectErr(nil)
	p.sweep(context.Background())

	s := p.Stats()
	checkInvariant(t, s)
	assert.Equal(t, 2, s.Idle)
	assert.EqualValues(t, 1, s.CreateErrors)
}
