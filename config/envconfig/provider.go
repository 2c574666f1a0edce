package envconfig

import (
	"github.com/pkg/errors"
	"github.com/vrischmann/envconfig"
)

const DefaultProviderName = "envconfig"

// Provider reads configuration from environment variables named
// after the struct fields: with prefix "POOLINGEX" field DB.Pool.MaxSize
// is read from POOLINGEX_DB_POOL_MAX_SIZE.
type Provider struct {
	prefix string
}

func NewProvider(prefix string) *Provider {
	return &Provider{prefix: prefix}
}

// Parse executes parsing sequence.
func (p *Provider) Parse(structure interface{}) error {
	if err := envconfig.InitWithPrefix(structure, p.prefix); err != nil {
		return errors.Wrap(err, "init by envconfig")
	}

	return nil
}
