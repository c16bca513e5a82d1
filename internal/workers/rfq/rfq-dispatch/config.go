// internal/workers/rfq/rfq-dispatch/config.go
package rfqdispatch

import (
	"fmt"
	"time"

	"rfq-workers/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
	}
}

// LoadConfig reads the rfq-dispatch worker section, falling back to defaults.
func LoadConfig(appCfg *config.Config) *Config {
	cfg := DefaultConfig()
	if appCfg == nil {
		return cfg
	}
	wc, ok := appCfg.Workers[TaskType]
	if !ok {
		return cfg
	}
	cfg.Enabled = wc.Enabled
	if wc.MaxJobsActive > 0 {
		cfg.MaxJobsActive = wc.MaxJobsActive
	}
	if wc.Timeout > 0 {
		cfg.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	return nil
}
