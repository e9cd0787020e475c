package config

import (
	"fmt"
	"time"
)

// Durable backend constants
const (
	DurableBackendHosted = "hosted"
	DurableBackendLocal  = "local"
)

// DurableStoreConfig holds durable document store configuration
type DurableStoreConfig struct {
	// Backend selects "hosted" (remote Git content API) or "local"
	// (filesystem Git repositories, for development).
	Backend string `env:"DURABLE_BACKEND" yaml:"backend" default:"hosted"`

	// Hosted backend
	APIBaseURL string        `env:"DURABLE_API_URL" yaml:"api_base_url" default:"https://api.github.com"`
	Timeout    time.Duration `env:"DURABLE_TIMEOUT" yaml:"timeout" default:"30s"`

	// Container owner for newly provisioned per-user stores. For the hosted
	// backend this is the account owning the repositories.
	Owner string `env:"DURABLE_OWNER" yaml:"owner"`

	// ServiceToken authenticates container provisioning when the per-user
	// credential store has no entry yet.
	ServiceToken string `env:"DURABLE_SERVICE_TOKEN" yaml:"-"`

	// Local backend
	LocalDir string `env:"DURABLE_LOCAL_DIR" yaml:"local_dir" default:"./data"`
}

// Validate checks the backend selection.
func (c *DurableStoreConfig) Validate() error {
	if c.Backend != DurableBackendHosted && c.Backend != DurableBackendLocal {
		return fmt.Errorf("durable_backend must be either 'hosted' or 'local', got %q", c.Backend)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("durable_timeout must be greater than 0")
	}
	return nil
}
