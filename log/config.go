package log

import "github.com/rs/zerolog"

type Config struct {
	// HumanFriendly enable writes log in human-friendly format to Out
	HumanFriendly bool `envconfig:"optional"`
	// NoColoredOutput forces logger to output things without
	// shell colorcodes.
	NoColoredOutput bool `envconfig:"optional"`
	// Level is a logger's loglevel. Possible values: "DEBUG",
	// "INFO", "WARN", "ERROR", "FATAL", "TRACE". Case-insensitive value.
	// Default: "INFO".
	Level string `envconfig:"optional"`
}

func DefaultConfig() *Config {
	return &Config{
		NoColoredOutput: true,
		Level:           zerolog.InfoLevel.String(),
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

	if cfgCopy.Level == "" {
		cfgCopy.Level = zerolog.InfoLevel.String()
	}

	return &cfgCopy
}
