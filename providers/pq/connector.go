package pq

import (
	"context"
	"database/sql/driver"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	ucdriver "github.com/soldatov-s/poolingex/ucpool/driver"
)

// SQLSTATE class of connection exceptions.
const connectionExceptionClass = "08"

var ErrNotExecer = errors.New("connection does not support exec")

// Connector opens PostgreSQL connections for the pool.
type Connector struct {
	connector driver.Connector
}

func NewConnector(dsn string) (*Connector, error) {
	c, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "new pq connector")
	}

	return &Connector{connector: c}, nil
}

// Driver returns the underlying database/sql connector, for opening a
// *sql.DB on the same settings.
func (c *Connector) Driver() driver.Connector {
	return c.connector
}

func (c *Connector) Connect(ctx context.Context) (ucdriver.Conn, error) {
	raw, err := c.connector.Connect(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	return &Conn{Conn: raw}, nil
}

// IsErrBadConn reports errors after which a connection must not be
// reused: driver.ErrBadConn and connection exceptions (class 08).
func (c *Connector) IsErrBadConn(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == connectionExceptionClass
	}

	return false
}

// Conn is a pooled PostgreSQL connection. Borrowers reach it with
// ucpool.Conn.Raw and may use any database/sql/driver interface the
// underlying connection implements.
type Conn struct {
	driver.Conn
}

// Validate pings the server when query is empty and executes query
// otherwise.
func (c *Conn) Validate(ctx context.Context, query string) error {
	if query == "" {
		if pinger, ok := c.Conn.(driver.Pinger); ok {
			return pinger.Ping(ctx)
		}
		query = "SELECT 1"
	}

	_, err := c.ExecContext(ctx, query)

	return err
}

// ExecContext executes query with positional args.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, ErrNotExecer
	}

	named := make([]driver.NamedValue, 0, len(args))
	for i, arg := range args {
		named = append(named, driver.NamedValue{Ordinal: i + 1, Value: arg})
	}

	res, err := execer.ExecContext(ctx, query, named)
	if err != nil {
		return nil, errors.Wrap(err, "exec")
	}

	return res, nil
}
