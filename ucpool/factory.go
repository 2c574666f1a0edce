package ucpool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/ucpool/driver"
)

var errNilConn = errors.New("driver returned nil connection")

// factory is the single place the pool calls into the driver to open
// connections.
type factory struct {
	connector driver.Connector
	now       func() time.Time
}

// create opens a raw connection. Every failure is reported as
// *ConnectionCreateError with the driver error as its cause.
func (f *factory) create(ctx context.Context) (*pooledConn, error) {
	raw, err := f.connector.Connect(ctx)
	if err != nil {
		return nil, &ConnectionCreateError{Err: err}
	}
	if raw == nil {
		return nil, &ConnectionCreateError{Err: errNilConn}
	}

	now := f.now()
	return &pooledConn{
		id:         uuid.New(),
		raw:        raw,
		createdAt:  now,
		lastUsedAt: now,
		state:      stateActive,
	}, nil
}
