package ucpool

import (
	"time"

	"github.com/pkg/errors"
)

const (
	defaultMaxSize           = 10
	defaultAcquireTimeout    = 30 * time.Second
	defaultMaxIdleTime       = 30 * time.Minute
	defaultMaxLifetime       = time.Hour
	defaultValidationTimeout = 5 * time.Second
	defaultSweepInterval     = 30 * time.Second
	defaultMaxAcquireRetries = 3
	defaultDrainTimeout      = 10 * time.Second
)

// Config represents configuration of one pool.
type Config struct {
	// MinIdle is a number of idle connections the pool keeps warm.
	// The sweeper never evicts below it. Default: 0.
	MinIdle int `envconfig:"optional"`
	// MaxSize is an upper limit for connections owned by the pool,
	// idle and lent out together. Default: 10.
	MaxSize int `envconfig:"optional"`
	// AcquireTimeout bounds how long Acquire waits for a connection.
	// Default: 30 seconds.
	AcquireTimeout time.Duration `envconfig:"optional"`
	// MaxIdleTime is a maximum amount of time a connection may stay idle
	// before the sweeper closes it. Zero disables idle eviction.
	MaxIdleTime time.Duration `envconfig:"optional"`
	// MaxLifetime is a maximum amount of time a connection may be reused.
	// Zero disables lifetime retirement.
	MaxLifetime time.Duration `envconfig:"optional"`
	// ValidationQuery is passed to driver.Validator before an idle
	// connection is lent out again. Empty means a driver level ping.
	ValidationQuery string `envconfig:"optional"`
	// ValidationTimeout bounds a single validation. Default: 5 seconds.
	ValidationTimeout time.Duration `envconfig:"optional"`
	// SweepInterval is a period of the eviction sweeper.
	// Default: 30 seconds.
	SweepInterval time.Duration `envconfig:"optional"`
	// MaxAcquireRetries is how many broken idle connections one Acquire
	// may discard before giving up. Default: 3.
	MaxAcquireRetries int `envconfig:"optional"`
	// DrainTimeout is how long Close waits for lent connections to come
	// back. Default: 10 seconds.
	DrainTimeout time.Duration `envconfig:"optional"`
}

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:           defaultMaxSize,
		AcquireTimeout:    defaultAcquireTimeout,
		MaxIdleTime:       defaultMaxIdleTime,
		MaxLifetime:       defaultMaxLifetime,
		ValidationTimeout: defaultValidationTimeout,
		SweepInterval:     defaultSweepInterval,
		MaxAcquireRetries: defaultMaxAcquireRetries,
		DrainTimeout:      defaultDrainTimeout,
	}
}

// SetDefault checks config. If required field is empty - it will
// be filled with some default value.
// Returns a copy of config.
func (c *Config) SetDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}

	cfgCopy := *c

	if cfgCopy.MaxSize == 0 {
		cfgCopy.MaxSize = defaultMaxSize
	}

	if cfgCopy.AcquireTimeout == 0 {
		cfgCopy.AcquireTimeout = defaultAcquireTimeout
	}

	if cfgCopy.ValidationTimeout == 0 {
		cfgCopy.ValidationTimeout = defaultValidationTimeout
	}

	if cfgCopy.SweepInterval == 0 {
		cfgCopy.SweepInterval = defaultSweepInterval
	}

	if cfgCopy.MaxAcquireRetries == 0 {
		cfgCopy.MaxAcquireRetries = defaultMaxAcquireRetries
	}

	if cfgCopy.DrainTimeout == 0 {
		cfgCopy.DrainTimeout = defaultDrainTimeout
	}

	return &cfgCopy
}

// Validate reports the first inconsistent field.
func (c *Config) Validate() error {
	if c.MaxSize < 1 {
		return errors.Wrapf(ErrInvalidMaxSize, "got %d", c.MaxSize)
	}

	if c.MinIdle < 0 || c.MinIdle > c.MaxSize {
		return errors.Wrapf(ErrInvalidMinIdle, "got %d, max size %d", c.MinIdle, c.MaxSize)
	}

	if c.MaxAcquireRetries < 0 {
		return errors.Wrapf(ErrInvalidMaxAcquireRetries, "got %d", c.MaxAcquireRetries)
	}

	durations := map[string]time.Duration{
		"acquire timeout":    c.AcquireTimeout,
		"max idle time":      c.MaxIdleTime,
		"max lifetime":       c.MaxLifetime,
		"validation timeout": c.ValidationTimeout,
		"sweep interval":     c.SweepInterval,
		"drain timeout":      c.DrainTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return errors.Wrap(ErrNegativeDuration, name)
		}
	}

	return nil
}
