// Package config fills service configuration structs from the
// registered providers.
package config

import (
	"github.com/pkg/errors"
)

var (
	ErrEmptyProviderName         = errors.New("empty provider name")
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
	ErrNoProviders               = errors.New("no config providers registered")
	ErrInvalidStructure          = errors.New("config structure must be a non-nil pointer")
)

// Provider is an interface that every configuration adapter
// should conform to.
type Provider interface {
	// Parse fills structure, a pointer to the service configuration.
	Parse(structure interface{}) error
}

// Collector runs configuration providers in registration order; when
// two providers set the same field the latest wins.
type Collector struct {
	providers map[string]Provider
	order     []string
}

func NewCollector() *Collector {
	return &Collector{
		providers: make(map[string]Provider),
	}
}

// RegisterProvider registers configuration adapter.
func (c *Collector) RegisterProvider(name string, provider Provider) error {
	if name == "" {
		return ErrEmptyProviderName
	}

	if _, ok := c.providers[name]; ok {
		return errors.Wrapf(ErrProviderAlreadyRegistered, "provider %q", name)
	}

	c.providers[name] = provider
	c.order = append(c.order, name)

	return nil
}

// Parse executes configuration parsing.
func (c *Collector) Parse(structure interface{}) error {
	if structure == nil {
		return ErrInvalidStructure
	}

	if len(c.order) == 0 {
		return ErrNoProviders
	}

	for _, name := range c.order {
		if err := c.providers[name].Parse(structure); err != nil {
			return errors.Wrapf(err, "parse config by %q", name)
		}
	}

	return nil
}
