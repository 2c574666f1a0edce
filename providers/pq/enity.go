package pq

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/base"
	"github.com/soldatov-s/poolingex/migrations"
	"github.com/soldatov-s/poolingex/ucpool"
	ucdriver "github.com/soldatov-s/poolingex/ucpool/driver"
)

const ProviderName = "postgres"

// ErrMigrationsOnly is returned by Start when the configuration asks to
// stop right after migrating.
var ErrMigrationsOnly = errors.New("only database migrations was requested")

// Enity is a connection controlling structure. It owns the pool of
// connections to one database and everything related to it.
type Enity struct {
	*base.Enity
	*base.MetricsStorage
	*base.ReadyCheckStorage
	config    *Config
	connector *Connector

	mu   sync.RWMutex
	pool *ucpool.Pool
}

// NewEnity create new enity.
func NewEnity(ctx context.Context, name string, config *Config) (*Enity, error) {
	if config == nil {
		return nil, base.ErrInvalidEnityOptions
	}

	cfg := config.SetDefault()
	if err := cfg.Pool.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate pool config")
	}

	connector, err := NewConnector(cfg.ComposeDSN())
	if err != nil {
		return nil, errors.Wrap(err, "new connector")
	}

	e := &Enity{
		Enity: base.NewEnity(&base.EnityDeps{
			ProviderName: ProviderName,
			Name:         name,
		}),
		MetricsStorage:    base.NewMetricsStorage(),
		ReadyCheckStorage: base.NewReadyCheckStorage(),
		config:            cfg,
		connector:         connector,
	}

	if err := e.buildReadyHandlers(ctx); err != nil {
		return nil, errors.Wrap(err, "build ready handlers")
	}

	return e, nil
}

func (e *Enity) GetConfig() *Config {
	return e.config
}

func (e *Enity) getPool() *ucpool.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.pool
}

// Start migrates the database and opens the pool. Metrics are
// available after Start.
func (e *Enity) Start(ctx context.Context) error {
	logger := e.GetLogger(ctx)

	if e.getPool() != nil {
		return nil
	}

	if err := e.migrate(ctx); err != nil {
		return err
	}

	logger.Info().Int("max_size", e.config.Pool.MaxSize).Msg("starting connection pool...")
	pool, err := ucpool.New(logger.WithContext(ctx), e.connector, e.config.Pool)
	if err != nil {
		return errors.Wrap(err, "new pool")
	}

	if err := e.buildMetrics(ctx, pool); err != nil {
		return errors.Wrap(err, "build metrics")
	}

	e.mu.Lock()
	e.pool = pool
	e.mu.Unlock()

	logger.Info().Msg("connection pool started")
	return nil
}

func (e *Enity) migrate(ctx context.Context) error {
	logger := e.GetLogger(ctx)

	// Migrations get their own short-lived connection so goose can use
	// database/sql transactions.
	db := sqlx.NewDb(sql.OpenDB(e.connector.Driver()), ProviderName)
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migration connection")
		}
	}()

	only, err := migrations.NewMigrator(ProviderName, db.DB, e.config.Migrate).Migrate(logger.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "migrate")
	}

	if only {
		logger.Warn().Msg("only database migrations was requested")
		return ErrMigrationsOnly
	}

	return nil
}

// Shutdown closes the pool, waiting for lent connections at most
// Pool.DrainTimeout. This is a blocking call.
func (e *Enity) Shutdown(ctx context.Context) error {
	logger := e.GetLogger(ctx)
	logger.Info().Msg("shutting down")
	e.SetShuttingDown(true)

	pool := e.getPool()
	if pool == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Pool.DrainTimeout)
	defer cancel()

	if err := pool.Shutdown(ctx); err != nil {
		return errors.Wrapf(err, "shutdown %q", e.GetFullName())
	}

	logger.Info().Msg("shutted down")
	return nil
}

// Acquire borrows a connection. The caller must Close it.
func (e *Enity) Acquire(ctx context.Context) (*ucpool.Conn, error) {
	pool := e.getPool()
	if pool == nil {
		return nil, base.ErrNotConnected
	}

	c, err := pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire")
	}

	return c, nil
}

// Exec executes query on a pooled connection.
func (e *Enity) Exec(ctx context.Context, query string, args ...interface{}) (rowsAffected int64, err error) {
	c, err := e.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if errClose := c.Close(); errClose != nil && err == nil {
			err = errors.Wrap(errClose, "release")
		}
	}()

	err = c.Do(ctx, func(ctx context.Context, raw ucdriver.Conn) error {
		conn, ok := raw.(*Conn)
		if !ok {
			return ErrNotExecer
		}
		res, errExec := conn.ExecContext(ctx, query, args...)
		if errExec != nil {
			return errExec
		}
		rowsAffected, errExec = res.RowsAffected()
		return errExec
	})

	return rowsAffected, err
}

// Ping checks that a connection can be borrowed and talks to the
// server.
func (e *Enity) Ping(ctx context.Context) (err error) {
	c, err := e.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := c.Close(); errClose != nil && err == nil {
			err = errors.Wrap(errClose, "release")
		}
	}()

	err = c.Do(ctx, func(ctx context.Context, raw ucdriver.Conn) error {
		v, ok := raw.(ucdriver.Validator)
		if !ok {
			return nil
		}
		return v.Validate(ctx, "")
	})
	if err != nil {
		return errors.Wrap(err, "ping connection")
	}

	return nil
}

// Stats returns pool statistics, zero before Start.
func (e *Enity) Stats() ucpool.Stats {
	pool := e.getPool()
	if pool == nil {
		return ucpool.Stats{}
	}

	return pool.Stats()
}

func (e *Enity) buildMetrics(_ context.Context, pool *ucpool.Pool) error {
	fullName := e.GetFullName()

	poolMetrics, err := pool.Metrics(fullName)
	if err != nil {
		return errors.Wrap(err, "pool metrics")
	}

	if err := e.GetMetrics().Append(poolMetrics); err != nil {
		return errors.Wrap(err, "append pool metrics")
	}

	redactedDSN, err := e.config.RedactedDSN()
	if err != nil {
		return errors.Wrap(err, "redacted dsn")
	}

	help := "status link to " + redactedDSN
	statusFunc := func(ctx context.Context) (float64, error) {
		ctx, cancel := context.WithTimeout(ctx, e.config.PingTimeout)
		defer cancel()

		if err := e.Ping(ctx); err != nil {
			return 0, nil
		}
		return 1, nil
	}
	if _, err := e.GetMetrics().AddGauge(fullName, "status", help, statusFunc); err != nil {
		return errors.Wrap(err, "add gauge metric")
	}

	return nil
}

func (e *Enity) buildReadyHandlers(_ context.Context) error {
	checkOptions := &base.CheckOptions{
		Name: strings.ToUpper(e.GetFullName() + "_notfailed"),
		CheckFunc: func(ctx context.Context) error {
			if e.getPool() == nil {
				return base.ErrNotConnected
			}

			ctx, cancel := context.WithTimeout(ctx, e.config.PingTimeout)
			defer cancel()

			return e.Ping(ctx)
		},
	}
	if err := e.GetReadyHandlers().Add(checkOptions); err != nil {
		return errors.Wrap(err, "add ready handler")
	}

	return nil
}
