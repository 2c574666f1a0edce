package base

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Enity holds what every started component has in common: a name used
// for logs, metrics and checks, and a shutting down flag.
type Enity struct {
	name         string
	providerName string
	shuttingDown int32
}

type EnityDeps struct {
	Name         string
	ProviderName string
}

func NewEnity(deps *EnityDeps) *Enity {
	return &Enity{
		name:         deps.Name,
		providerName: deps.ProviderName,
	}
}

func (e *Enity) GetName() string {
	return e.name
}

// GetFullName returns "<provider>_<name>", the prefix of every metric
// of the enity.
func (e *Enity) GetFullName() string {
	return strings.Join([]string{e.providerName, e.name}, "_")
}

func (e *Enity) GetLogger(ctx context.Context) *zerolog.Logger {
	logger := zerolog.Ctx(ctx).With().
		Str("provider_type", e.providerName).
		Str("enity_name", e.name).
		Logger()
	return &logger
}

func (e *Enity) IsShuttingDown() bool {
	return atomic.LoadInt32(&e.shuttingDown) == 1
}

func (e *Enity) SetShuttingDown(v bool) {
	var i int32
	if v {
		i = 1
	}
	atomic.StoreInt32(&e.shuttingDown, i)
}
