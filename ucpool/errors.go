package ucpool

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPoolClosed is returned by any acquisition made after the pool
	// started shutting down.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrAcquireTimeout is returned when no connection became available
	// before the acquisition deadline. The caller may retry.
	ErrAcquireTimeout = errors.New("acquire timeout")
	// ErrValidation is returned when every connection tried during one
	// acquisition failed validation.
	ErrValidation = errors.New("connection validation failed")
	// ErrIllegalState is returned on programmer errors such as releasing
	// a connection twice or using a released connection.
	ErrIllegalState = errors.New("illegal connection state")

	ErrNilConnector     = errors.New("connector is nil")
	ErrInvalidMaxSize   = errors.New("max size must be at least 1")
	ErrInvalidMinIdle   = errors.New("min idle must be between 0 and max size")
	ErrNegativeDuration = errors.New("duration must not be negative")

	ErrInvalidMaxAcquireRetries = errors.New("max acquire retries must not be negative")
)

// errBadConn signals a discarded connection inside the acquisition
// retry loop. It never leaves the package.
var errBadConn = errors.New("bad connection")

// ConnectionCreateError wraps any failure of the underlying driver to
// open a connection. A failed creation never consumes a pool slot.
type ConnectionCreateError struct {
	Err error
}

func (e *ConnectionCreateError) Error() string {
	return fmt.Sprintf("create connection: %v", e.Err)
}

func (e *ConnectionCreateError) Unwrap() error {
	return e.Err
}

// Cause makes the driver error reachable through errors.Cause.
func (e *ConnectionCreateError) Cause() error {
	return e.Err
}
