package ucpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/ucpool/driver"
)

type connState uint8

const (
	stateIdle connState = iota
	stateActive
	// stateInvalid is an active connection that must not be reused.
	stateInvalid
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateInvalid:
		return "invalid"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// pooledConn is a raw connection owned by the pool.
type pooledConn struct {
	id        uuid.UUID
	raw       driver.Conn
	createdAt time.Time

	// guarded by Pool.mu
	state      connState
	lastUsedAt time.Time // time the connection was created or returned

	// written only by the goroutine the connection is lent to
	lastValidatedAt time.Time
}

func (pc *pooledConn) expired(lifetime time.Duration, now time.Time) bool {
	if lifetime <= 0 {
		return false
	}
	return pc.createdAt.Add(lifetime).Before(now)
}

func (pc *pooledConn) idleExpired(maxIdle time.Duration, now time.Time) bool {
	if maxIdle <= 0 {
		return false
	}
	return pc.lastUsedAt.Add(maxIdle).Before(now)
}

// Conn is a single borrowed connection. Every Conn must be returned
// to the pool by calling Close. After Close, Raw, Do and Close fail
// with ErrIllegalState.
type Conn struct {
	pool *Pool
	pc   *pooledConn

	// done transitions from 0 to 1 exactly once, on close.
	done int32
}

// ID returns an identifier of the underlying pooled connection. It
// stays the same across leases of that connection.
func (c *Conn) ID() uuid.UUID {
	return c.pc.id
}

// CreatedAt returns the time the underlying connection was opened.
func (c *Conn) CreatedAt() time.Time {
	return c.pc.createdAt
}

func (c *Conn) released() bool {
	return atomic.LoadInt32(&c.done) == 1
}

// Raw returns the driver connection for the duration of the lease.
func (c *Conn) Raw() (driver.Conn, error) {
	if c.released() {
		return nil, errors.Wrap(ErrIllegalState, "use of released connection")
	}
	return c.pc.raw, nil
}

// Do runs fn on the driver connection. If fn fails with an error the
// connector classifies as a bad connection, the connection is marked
// invalid and will be closed instead of reused when released.
func (c *Conn) Do(ctx context.Context, fn func(ctx context.Context, raw driver.Conn) error) error {
	raw, err := c.Raw()
	if err != nil {
		return err
	}
	return c.ReportError(fn(ctx, raw))
}

// ReportError lets callers that use Raw directly hand back errors seen
// on the connection. It returns err unchanged.
func (c *Conn) ReportError(err error) error {
	if err != nil && c.pool.connector.IsErrBadConn(err) {
		c.MarkInvalid()
	}
	return err
}

// MarkInvalid forces the connection to be closed on release.
func (c *Conn) MarkInvalid() {
	if c.released() {
		return
	}
	c.pool.markInvalid(c.pc)
}

// Close returns the connection to the pool. Close is not a real close:
// the pool decides whether the connection is reused.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.done, 0, 1) {
		return errors.Wrap(ErrIllegalState, "connection already released")
	}
	return c.pool.release(c.pc)
}
