// Package migrations applies goose migrations before the pool starts
// lending connections.
package migrations

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"github.com/pressly/goose"
	"github.com/rs/zerolog"
)

const (
	ActionNothing = "nothing"
	ActionUp      = "up"
	ActionDown    = "down"

	defaultSchema = "public"
)

var (
	ErrUnsupportedAction = errors.New("unsupported set of migration parameters")
	ErrInvalidSchemaName = errors.New("invalid schema name")
)

type Config struct {
	// Action for migration, may be: nothing, up, down. Default: nothing.
	Action string `envconfig:"optional"`
	// Count of applied/rollbacked migration, 0 means all.
	Count int64 `envconfig:"optional"`
	// Directory is a path to SQL migrations. Empty when migrations are
	// registered as Go code.
	Directory string `envconfig:"optional"`
	// Only asks the service to exit right after migration.
	Only bool `envconfig:"optional"`
	// Schema keeps the goose version table. Default: public.
	Schema string `envconfig:"optional"`
}

// SetDefault checks migration options. If required field is empty - it will
// be filled with some default value.
func (c *Config) SetDefault() *Config {
	if c == nil {
		c = &Config{}
	}

	cfgCopy := *c
	cfgCopy.Action = strings.ToLower(cfgCopy.Action)
	if cfgCopy.Action == "" {
		cfgCopy.Action = ActionNothing
	}

	if cfgCopy.Directory == "" {
		cfgCopy.Directory = "."
	}

	if cfgCopy.Schema == "" {
		cfgCopy.Schema = defaultSchema
	}

	return &cfgCopy
}

// InCode is a migration written as Go code. Do not mix them with SQL
// file migrations in one directory.
type InCode struct {
	Name string
	Up   func(tx *sql.Tx) error
	Down func(tx *sql.Tx) error
}

func RegisterMigration(migration *InCode) {
	goose.AddNamedMigration(migration.Name, migration.Up, migration.Down)
}

// Migrator runs goose against one database.
type Migrator struct {
	db      *sql.DB
	config  *Config
	dialect string
}

func NewMigrator(dialect string, db *sql.DB, config *Config) *Migrator {
	return &Migrator{
		db:      db,
		config:  config.SetDefault(),
		dialect: dialect,
	}
}

// Migrate applies the configured action. It reports whether the
// service was asked to stop after migrating.
func (m *Migrator) Migrate(ctx context.Context) (only bool, err error) {
	logger := zerolog.Ctx(ctx).With().Str("subsystem", "database migrations").Logger()

	if m.config.Action == ActionNothing {
		logger.Debug().Msg("no migration action requested")
		return m.config.Only, nil
	}

	if err := m.migrateSchema(ctx); err != nil {
		return false, errors.Wrap(err, "execute schema migration")
	}

	if err := goose.SetDialect(m.dialect); err != nil {
		return false, errors.Wrap(err, "set dialect")
	}
	goose.SetTableName(m.config.Schema + ".goose_db_version")

	currentDBVersion, err := goose.GetDBVersion(m.db)
	if err != nil {
		return false, errors.Wrap(err, "get database version")
	}
	logger.Debug().Int64("database version", currentDBVersion).Msg("current database version obtained")

	if err := m.migrate(ctx, currentDBVersion); err != nil {
		return false, errors.Wrap(err, "execute migration sequence")
	}

	logger.Info().Msg("database migrated successfully")
	return m.config.Only, nil
}

// Target returns the version the configured action migrates to, or -1
// for "every unapplied migration".
func Target(action string, count, current int64) (int64, error) {
	switch {
	case action == ActionUp && count == 0:
		return -1, nil
	case action == ActionUp && count > 0:
		return current + count, nil
	case action == ActionDown && count == 0:
		return 0, nil
	case action == ActionDown && count > 0:
		target := current - count
		if target < 0 {
			target = 0
		}
		return target, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedAction, "action %q, count %d", action, count)
	}
}

func (m *Migrator) migrate(ctx context.Context, currentDBVersion int64) error {
	logger := zerolog.Ctx(ctx).With().Str("subsystem", "database migrations").Logger()

	target, err := Target(m.config.Action, m.config.Count, currentDBVersion)
	if err != nil {
		return err
	}

	switch {
	case m.config.Action == ActionUp && target < 0:
		logger.Info().Msg("applying all unapplied migrations...")
		err = goose.Up(m.db, m.config.Directory)
	case m.config.Action == ActionUp:
		logger.Info().Int64("new version", target).Msg("migrating database to specific version")
		err = goose.UpTo(m.db, m.config.Directory, target)
	default:
		logger.Info().Int64("new version", target).Msg("downgrading database")
		err = goose.DownTo(m.db, m.config.Directory, target)
	}

	return errors.Wrap(err, "goose")
}

func (m *Migrator) migrateSchema(ctx context.Context) error {
	if !isIdentifier(m.config.Schema) {
		return errors.Wrapf(ErrInvalidSchemaName, "%q", m.config.Schema)
	}

	_, err := m.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+m.config.Schema)

	return err
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
