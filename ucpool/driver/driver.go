package driver

import (
	"context"
	"io"
)

// Conn is a raw connection produced by a Connector. The pool only
// needs to be able to close it; everything else is up to the caller
// that borrows it.
//
// A Conn is used by one goroutine at a time.
type Conn interface {
	io.Closer
}

// A Connector represents a driver in a fixed configuration
// and can create any number of equivalent Conns for use
// by multiple goroutines.
type Connector interface {
	// Connect returns a new connection.
	//
	// The provided context.Context is for dialing purposes only
	// and should not be stored or used for other purposes.
	Connect(ctx context.Context) (Conn, error)
	// IsErrBadConn reports whether err means that a connection is in a
	// bad state (such as the server having earlier closed the
	// connection) and should be discarded instead of reused.
	IsErrBadConn(err error) bool
}

// Validator may be implemented by Conn to allow the pool to check a
// connection before lending it out again. query is the configured
// validation query and may be empty, in which case the driver should
// use its cheapest liveness check (e.g. a protocol ping).
type Validator interface {
	Validate(ctx context.Context, query string) error
}
