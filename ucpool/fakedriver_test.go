package ucpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/ucpool/driver"
	"github.com/stretchr/testify/require"
)

var (
	errFakeConnect = errors.New("fake: connection refused")
	errFakeBadConn = errors.New("fake: broken pipe")
	errFakeInvalid = errors.New("fake: validation failed")
)

// fakeConnector is an in-memory driver. Connect may be made to fail or
// to block until gate is closed.
type fakeConnector struct {
	mu          sync.Mutex
	connectErr  error
	validateErr error
	// validateHangs makes Validate wait for its context to end.
	validateHangs bool
	gate        chan struct{}
	conns       []*fakeConn

	opened int32
	closed int32
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{}
}

func (c *fakeConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectErr != nil {
		return nil, c.connectErr
	}

	conn := &fakeConn{connector: c, n: len(c.conns)}
	c.conns = append(c.conns, conn)
	atomic.AddInt32(&c.opened, 1)

	return conn, nil
}

func (c *fakeConnector) IsErrBadConn(err error) bool {
	return errors.Is(err, errFakeBadConn)
}

func (c *fakeConnector) setConnectErr(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *fakeConnector) setValidateHangs(v bool) {
	c.mu.Lock()
	c.validateHangs = v
	c.mu.Unlock()
}

func (c *fakeConnector) setValidateErr(err error) {
	c.mu.Lock()
	c.validateErr = err
	c.mu.Unlock()
}

// block makes Connect wait until the returned func is called.
func (c *fakeConnector) block() (unblock func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
		})
	}
}

func (c *fakeConnector) numOpened() int {
	return int(atomic.LoadInt32(&c.opened))
}

func (c *fakeConnector) numClosed() int {
	return int(atomic.LoadInt32(&c.closed))
}

type fakeConn struct {
	connector *fakeConnector
	n         int
	closed    int32
	validated int32
}

func (c *fakeConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return errors.New("fake: closed twice")
	}
	atomic.AddInt32(&c.connector.closed, 1)
	return nil
}

func (c *fakeConn) Validate(ctx context.Context, query string) error {
	atomic.AddInt32(&c.validated, 1)

	c.connector.mu.Lock()
	hangs, err := c.connector.validateHangs, c.connector.validateErr
	c.connector.mu.Unlock()

	if hangs {
		<-ctx.Done()
		return ctx.Err()
	}

	return err
}

func (c *fakeConn) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig keeps background sweeps out of the way; tests call sweep
// directly.
func testConfig() *Config {
	return &Config{
		MaxSize:        2,
		AcquireTimeout: 5 * time.Second,
		SweepInterval:  time.Hour,
		DrainTimeout:   100 * time.Millisecond,
	}
}

func newTestPool(t *testing.T, connector driver.Connector, cfg *Config, opts ...Option) *Pool {
	t.Helper()

	p, err := New(context.Background(), connector, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})

	return p
}

func rawFake(t *testing.T, c *Conn) *fakeConn {
	t.Helper()

	raw, err := c.Raw()
	require.NoError(t, err)
	fc, ok := raw.(*fakeConn)
	require.True(t, ok)

	return fc
}

// checkInvariant asserts the accounting of a pool snapshot.
func checkInvariant(t *testing.T, s Stats) {
	t.Helper()

	require.LessOrEqual(t, s.Open, s.MaxSize)
	require.Equal(t, s.Open, s.Idle+s.Active+s.Pending)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}
