// Package ucpool maintains a bounded pool of driver connections.
//
// Connections are lent out with Acquire and come back with Conn.Close.
// When the pool is exhausted, acquisitions queue in FIFO order and are
// served directly by released or newly opened connections.
package ucpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/soldatov-s/poolingex/ucpool/driver"
	"golang.org/x/sync/errgroup"
)

// nowFunc returns the current time; tests replace it per pool with
// WithNowFunc.
var nowFunc = time.Now

// Pool is a handle representing a pool of zero or more underlying
// connections. It's safe for concurrent use by multiple goroutines.
type Pool struct {
	// Atomic access only. At top of struct to prevent mis-alignment
	// on 32-bit platforms. Of type time.Duration.
	waitDuration int64 // Total time waited for connections.

	connector driver.Connector
	factory   *factory
	cfg       *Config
	logger    zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex // protects following fields
	idle       idleStack
	active     map[*pooledConn]struct{}
	waiters    waiterQueue
	numOpen    int // idle, lent out and pending connections
	numPending int // connections being opened
	// pendingOpens is the part of numPending requested by
	// maybeOpenNewConnectionsLocked for queued waiters.
	pendingOpens int
	closed       bool

	waitCount         int64 // Total number of connections waited for.
	timeoutCount      int64 // Total number of acquisitions that timed out.
	createErrors      int64 // Total number of failed connection attempts.
	validationFailed  int64 // Total number of connections discarded by validation.
	invalidClosed     int64 // Total number of connections closed as invalid on release.
	maxIdleTimeClosed int64 // Total number of connections closed due to MaxIdleTime.
	maxLifetimeClosed int64 // Total number of connections closed due to MaxLifetime.

	// openerCh carries one request per slot reserved for a waiter; it
	// is sized to MaxSize so sending never blocks.
	openerCh chan struct{}
	// drained is signalled on every close of a connection once the pool
	// is shutting down.
	drained chan struct{}

	group *errgroup.Group
	stop  context.CancelFunc
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger overrides the logger taken from the context passed to New.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithNowFunc replaces the clock used for idle time, lifetime and
// waiter deadlines.
func WithNowFunc(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New creates a pool and starts its background workers: the opener
// serving queued acquisitions and the eviction sweeper. Workers live
// until Shutdown or until ctx is done, so ctx should outlive the pool.
//
// New does not open connections itself; with MinIdle > 0 the sweeper
// fills the idle set in the background.
func New(ctx context.Context, connector driver.Connector, cfg *Config, opts ...Option) (*Pool, error) {
	if connector == nil {
		return nil, ErrNilConnector
	}

	cfg = cfg.SetDefault()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	p := &Pool{
		connector: connector,
		cfg:       cfg,
		logger:    zerolog.Ctx(ctx).With().Str("subsystem", "ucpool").Logger(),
		now:       nowFunc,
		active:    make(map[*pooledConn]struct{}),
		openerCh:  make(chan struct{}, cfg.MaxSize),
		drained:   make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.factory = &factory{connector: connector, now: p.now}

	ctx, p.stop = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	p.group.Go(func() error {
		return p.connectionOpener(ctx)
	})
	p.group.Go(func() error {
		return p.sweeper(ctx)
	})

	return p, nil
}

// Config returns a copy of the effective pool configuration.
func (p *Pool) Config() Config {
	return *p.cfg
}

// Acquire returns a connection, waiting at most Config.AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.AcquireTimeout(ctx, p.cfg.AcquireTimeout)
}

// AcquireTimeout returns an idle connection, a new one if the pool is
// below MaxSize, or waits for a released one. A timeout <= 0 waits as
// long as ctx allows.
//
// Errors: ErrPoolClosed, ErrAcquireTimeout, *ConnectionCreateError,
// ErrValidation when every reused connection tried was broken, or the
// context error when ctx is canceled.
func (p *Pool) AcquireTimeout(ctx context.Context, timeout time.Duration) (*Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for i := 0; i < p.cfg.MaxAcquireRetries; i++ {
		pc, err := p.conn(ctx)
		switch {
		case err == nil:
			return &Conn{pool: p, pc: pc}, nil
		case errors.Is(err, errBadConn):
			continue
		case errors.Is(err, ErrAcquireTimeout):
			p.mu.Lock()
			p.timeoutCount++
			p.mu.Unlock()
			return nil, err
		default:
			return nil, err
		}
	}

	return nil, errors.Wrapf(ErrValidation, "%d attempts", p.cfg.MaxAcquireRetries)
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrAcquireTimeout
	}
	return errors.Wrap(ctx.Err(), "acquire")
}

// conn returns a cached, new or handed-off connection. errBadConn means
// an idle connection was discarded and the caller should try again.
// nolint:funlen // long function
func (p *Pool) conn(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	now := p.now()
	for _, w := range p.waiters.popExpired(now) {
		w.ready <- result{err: ErrAcquireTimeout}
	}
	// Check if the context is expired.
	select {
	default:
	case <-ctx.Done():
		p.mu.Unlock()
		return nil, ctxErr(ctx)
	}

	// Prefer the most recently used idle connection.
	pc, expired := p.popIdleLocked(now)
	if pc != nil {
		pc.state = stateActive
		p.active[pc] = struct{}{}
		p.mu.Unlock()
		p.closeAll(expired)

		if err := p.validate(ctx, pc); err != nil {
			if ctx.Err() != nil {
				// The caller gave up, the connection is not known to be broken.
				p.putBack(pc)
				return nil, ctxErr(ctx)
			}
			p.logger.Warn().Err(err).Str("conn_id", pc.id.String()).Msg("discard connection failed validation")
			p.mu.Lock()
			p.validationFailed++
			p.removeLocked(pc)
			p.mu.Unlock()
			p.closeRaw(pc)
			return nil, errBadConn
		}
		return pc, nil
	}

	// Out of idle connections: open one if the limit allows.
	if p.numOpen < p.cfg.MaxSize {
		p.numOpen++ // optimistically
		p.numPending++
		p.mu.Unlock()
		p.closeAll(expired)

		pc, err := p.factory.create(ctx)

		p.mu.Lock()
		p.numPending--
		if err != nil {
			p.createErrors++
			p.decOpenLocked()
			p.mu.Unlock()
			p.logger.Error().Err(err).Msg("open connection")
			return nil, err
		}
		if p.closed {
			p.decOpenLocked()
			p.mu.Unlock()
			p.closeRaw(pc)
			return nil, ErrPoolClosed
		}
		p.active[pc] = struct{}{}
		p.mu.Unlock()
		p.logger.Debug().Str("conn_id", pc.id.String()).Msg("connection opened")
		return pc, nil
	}

	// Exhausted: queue up and wait for a hand-off.
	// Deadlines are kept on the pool clock so overdue waiters can be
	// found by the sweeper and on hand-off.
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = now.Add(time.Until(d))
	}
	w := newWaiter(now, deadline)
	p.waiters.push(w)
	p.waitCount++
	p.mu.Unlock()
	p.closeAll(expired)

	waitStart := time.Now()

	select {
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.waiters.remove(w)
		p.mu.Unlock()

		atomic.AddInt64(&p.waitDuration, int64(time.Since(waitStart)))

		if !removed {
			// The waiter was served concurrently with the cancellation.
			// Hand a delivered connection back instead of leaking it.
			if ret := <-w.ready; ret.conn != nil {
				if err := p.release(ret.conn); err != nil {
					p.logger.Warn().Err(err).Msg("return connection of canceled waiter")
				}
			}
		}
		return nil, ctxErr(ctx)
	case ret := <-w.ready:
		atomic.AddInt64(&p.waitDuration, int64(time.Since(waitStart)))
		if ret.err != nil {
			return nil, ret.err
		}
		return ret.conn, nil
	}
}

// popIdleLocked returns the most recently used idle connection that
// has not outlived MaxLifetime. Outlived ones met on the way are
// removed and returned for closing.
func (p *Pool) popIdleLocked(now time.Time) (*pooledConn, []*pooledConn) {
	var expired []*pooledConn
	for pc := p.idle.pop(); pc != nil; pc = p.idle.pop() {
		if !pc.expired(p.cfg.MaxLifetime, now) {
			return pc, expired
		}
		p.maxLifetimeClosed++
		pc.state = stateClosed
		p.decOpenLocked()
		expired = append(expired, pc)
	}
	return nil, expired
}

func (p *Pool) validate(ctx context.Context, pc *pooledConn) error {
	v, ok := pc.raw.(driver.Validator)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ValidationTimeout)
	defer cancel()

	if err := v.Validate(ctx, p.cfg.ValidationQuery); err != nil {
		return errors.Wrap(err, "validate")
	}
	pc.lastValidatedAt = p.now()

	return nil
}

// release takes back a lent connection. It either hands it to the
// oldest waiter, puts it into the idle set or closes it.
func (p *Pool) release(pc *pooledConn) error {
	p.mu.Lock()
	switch pc.state {
	case stateActive, stateInvalid:
	case stateClosed:
		// Force-closed by Shutdown while lent out.
		p.mu.Unlock()
		return ErrPoolClosed
	default:
		state := pc.state
		p.mu.Unlock()
		return errors.Wrapf(ErrIllegalState, "release connection in state %s", state)
	}

	now := p.now()
	switch {
	case p.closed:
	case pc.state == stateInvalid:
		p.invalidClosed++
	case pc.expired(p.cfg.MaxLifetime, now):
		p.maxLifetimeClosed++
	default:
		delete(p.active, pc)
		p.putConnLocked(pc, now)
		p.mu.Unlock()
		return nil
	}

	p.removeLocked(pc)
	p.mu.Unlock()
	p.closeRaw(pc)

	return nil
}

// putBack returns a connection whose acquisition was abandoned during
// validation. Its idle time keeps counting from the last real use.
func (p *Pool) putBack(pc *pooledConn) {
	p.mu.Lock()
	if p.closed {
		p.removeLocked(pc)
		p.mu.Unlock()
		_ = p.closeRaw(pc)
		return
	}
	lastUsedAt := pc.lastUsedAt
	delete(p.active, pc)
	p.putConnLocked(pc, p.now())
	if pc.state == stateIdle {
		pc.lastUsedAt = lastUsedAt
	}
	p.mu.Unlock()
}

func (p *Pool) markInvalid(pc *pooledConn) {
	p.mu.Lock()
	if pc.state == stateActive {
		pc.state = stateInvalid
	}
	p.mu.Unlock()
}

// putConnLocked hands pc to the oldest waiter whose deadline has not
// passed, or pushes it to the idle set. Overdue waiters met on the way
// get ErrAcquireTimeout.
func (p *Pool) putConnLocked(pc *pooledConn, now time.Time) {
	for w := p.waiters.pop(); w != nil; w = p.waiters.pop() {
		if w.expired(now) {
			w.ready <- result{err: ErrAcquireTimeout}
			continue
		}
		pc.state = stateActive
		p.active[pc] = struct{}{}
		w.ready <- result{conn: pc}
		return
	}

	pc.state = stateIdle
	pc.lastUsedAt = now
	p.idle.push(pc)
}

// removeLocked forgets a lent connection that is about to be closed.
func (p *Pool) removeLocked(pc *pooledConn) {
	delete(p.active, pc)
	pc.state = stateClosed
	p.decOpenLocked()
}

// decOpenLocked gives a slot back. The slot goes to a queued waiter
// if there is one.
func (p *Pool) decOpenLocked() {
	p.numOpen--
	if p.closed {
		select {
		case p.drained <- struct{}{}:
		default:
		}
		return
	}
	p.maybeOpenNewConnectionsLocked()
}

// If there are waiters and the connection limit hasn't been reached,
// then tell the connectionOpener to open new connections.
func (p *Pool) maybeOpenNewConnectionsLocked() {
	numRequests := p.waiters.len() - p.pendingOpens
	if numCanOpen := p.cfg.MaxSize - p.numOpen; numRequests > numCanOpen {
		numRequests = numCanOpen
	}
	for ; numRequests > 0; numRequests-- {
		p.numOpen++ // optimistically
		p.numPending++
		p.pendingOpens++
		p.openerCh <- struct{}{}
	}
}

// Runs in a separate goroutine, opens new connections when requested.
func (p *Pool) connectionOpener(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.openerCh:
			p.openNewConnection(ctx)
		}
	}
}

// openNewConnection opens one connection for the oldest waiter.
// maybeOpenNewConnectionsLocked has already reserved its slot.
func (p *Pool) openNewConnection(ctx context.Context) {
	pc, err := p.factory.create(ctx)

	p.mu.Lock()
	p.numPending--
	p.pendingOpens--
	if p.closed {
		p.decOpenLocked()
		p.mu.Unlock()
		if err == nil {
			p.closeRaw(pc)
		}
		return
	}
	if err != nil {
		p.createErrors++
		if w := p.waiters.pop(); w != nil {
			w.ready <- result{err: err}
		}
		p.decOpenLocked()
		p.mu.Unlock()
		p.logger.Error().Err(err).Msg("open connection for waiter")
		return
	}
	p.putConnLocked(pc, p.now())
	p.mu.Unlock()
}

func (p *Pool) closeRaw(pc *pooledConn) error {
	if err := pc.raw.Close(); err != nil {
		p.logger.Warn().Err(err).Str("conn_id", pc.id.String()).Msg("close connection")
		return errors.Wrap(err, "close connection")
	}
	return nil
}

func (p *Pool) closeAll(conns []*pooledConn) {
	for _, pc := range conns {
		_ = p.closeRaw(pc)
	}
}

// Shutdown closes the pool. It rejects new acquisitions, fails queued
// ones with ErrPoolClosed, stops background workers, closes idle
// connections and waits for lent connections to be released. When ctx
// ends first, connections still lent out are closed by force and their
// later Close returns ErrPoolClosed.
//
// Shutdown is idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, w := range p.waiters.drain() {
		w.ready <- result{err: ErrPoolClosed}
	}
	idle := p.idle.drain()
	for _, pc := range idle {
		pc.state = stateClosed
		p.numOpen--
	}
	p.mu.Unlock()

	p.logger.Info().Int("idle", len(idle)).Msg("shutting down pool")

	p.stop()
	if err := p.group.Wait(); err != nil {
		p.logger.Error().Err(err).Msg("pool workers")
	}
	p.dropOpenerRequests()

	var err error
	for _, pc := range idle {
		if errClose := p.closeRaw(pc); errClose != nil {
			err = errClose
		}
	}

	for {
		p.mu.Lock()
		lent := len(p.active)
		p.mu.Unlock()
		if lent == 0 {
			break
		}

		select {
		case <-p.drained:
		case <-ctx.Done():
			forced := p.forceCloseActive()
			p.logger.Warn().Int("connections", forced).Msg("drain timeout, lent connections closed")
			return err
		}
	}

	p.logger.Info().Msg("pool shut down")
	return err
}

// Close shuts the pool down, waiting at most Config.DrainTimeout for
// lent connections.
func (p *Pool) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()

	return p.Shutdown(ctx)
}

// dropOpenerRequests gives back slots reserved for requests the opener
// never picked up. Only called once workers stopped.
func (p *Pool) dropOpenerRequests() {
	for {
		select {
		case <-p.openerCh:
			p.mu.Lock()
			p.numPending--
			p.pendingOpens--
			p.decOpenLocked()
			p.mu.Unlock()
		default:
			return
		}
	}
}

func (p *Pool) forceCloseActive() int {
	p.mu.Lock()
	closing := make([]*pooledConn, 0, len(p.active))
	for pc := range p.active {
		closing = append(closing, pc)
		p.removeLocked(pc)
	}
	p.mu.Unlock()

	p.closeAll(closing)
	return len(closing)
}

// Stats contains pool statistics.
type Stats struct {
	MaxSize int // Maximum number of connections.

	// Pool Status
	Open    int // Idle, lent out and pending connections.
	Idle    int // The number of idle connections.
	Active  int // The number of connections lent out.
	Pending int // The number of connections being opened.
	Waiting int // The number of queued acquisitions.

	// Counters
	WaitCount         int64         // The total number of connections waited for.
	WaitDuration      time.Duration // The total time blocked waiting for a connection.
	TimeoutCount      int64         // The total number of acquisitions that timed out.
	CreateErrors      int64         // The total number of failed connection attempts.
	ValidationFailed  int64         // The total number of connections discarded by validation.
	InvalidClosed     int64         // The total number of connections closed as invalid.
	MaxIdleTimeClosed int64         // The total number of connections closed due to MaxIdleTime.
	MaxLifetimeClosed int64         // The total number of connections closed due to MaxLifetime.
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	wait := atomic.LoadInt64(&p.waitDuration)

	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		MaxSize: p.cfg.MaxSize,

		Open:    p.numOpen,
		Idle:    p.idle.len(),
		Active:  len(p.active),
		Pending: p.numPending,
		Waiting: p.waiters.len(),

		WaitCount:         p.waitCount,
		WaitDuration:      time.Duration(wait),
		TimeoutCount:      p.timeoutCount,
		CreateErrors:      p.createErrors,
		ValidationFailed:  p.validationFailed,
		InvalidClosed:     p.invalidClosed,
		MaxIdleTimeClosed: p.maxIdleTimeClosed,
		MaxLifetimeClosed: p.maxLifetimeClosed,
	}
}
