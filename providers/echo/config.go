package echo

import (
	"time"

	"github.com/labstack/echo/v4"
)

const (
	defaultBodyReadTimeout   = 10 * time.Second
	defaultBodyWriteTimeout  = 10 * time.Second
	defaultHeaderReadTimeout = 5 * time.Second
	defaultAddress           = "localhost:9100"
)

type Config struct {
	// Address is an address on which HTTP server will listen.
	// Default: "localhost:9100".
	Address string `envconfig:"optional"`
	// DisableHTTP2 disabled HTTP2 features (only HTTP 1.0/1.1 will work).
	DisableHTTP2 bool `envconfig:"optional"`
	// Debug enables internal echo debugging features.
	Debug bool `envconfig:"optional"`
	// HideBanner disables showing Echo banner on server's start.
	HideBanner bool `envconfig:"optional"`
	// HidePort disables showing address and port on which Echo will listen
	// for connections.
	HidePort bool `envconfig:"optional"`

	// BodyReadTimeout sets body reading timeout. Defaults to 10 seconds.
	BodyReadTimeout time.Duration `envconfig:"optional"`
	// BodyWriteTimeout sets body writing timeout. Defaults to 10 seconds.
	BodyWriteTimeout time.Duration `envconfig:"optional"`
	// HeaderReadTimeout sets headers reading timeout. Defaults to 5 seconds.
	HeaderReadTimeout time.Duration `envconfig:"optional"`
}

// SetDefault checks config. If required field is empty - it will
// be filled with some default value.
// Returns a copy of config.
func (c *Config) SetDefault() *Config {
	if c == nil {
		c = &Config{}
	}

	cfgCopy := *c

	if cfgCopy.BodyReadTimeout == 0 {
		cfgCopy.BodyReadTimeout = defaultBodyReadTimeout
	}

	if cfgCopy.BodyWriteTimeout == 0 {
		cfgCopy.BodyWriteTimeout = defaultBodyWriteTimeout
	}

	if cfgCopy.HeaderReadTimeout == 0 {
		cfgCopy.HeaderReadTimeout = defaultHeaderReadTimeout
	}

	if cfgCopy.Address == "" {
		cfgCopy.Address = defaultAddress
	}

	return &cfgCopy
}

func (c *Config) NewEcho() *echo.Echo {
	srv := echo.New()
	srv.Debug = c.Debug
	srv.DisableHTTP2 = c.DisableHTTP2
	srv.HideBanner = c.HideBanner
	srv.HidePort = c.HidePort

	srv.Server.ReadHeaderTimeout = c.HeaderReadTimeout
	srv.Server.ReadTimeout = c.BodyReadTimeout
	srv.Server.WriteTimeout = c.BodyWriteTimeout

	return srv
}
