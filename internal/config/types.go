package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Oracle    OracleConfig    `json:"oracle"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Policy    PolicyConfig    `json:"policy"`
	Admin     AdminConfig     `json:"admin"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type OracleConfig struct {
	// APIKey is required; the pipeline refuses to start without it.
	APIKey  string `json:"api_key"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// Timeout is a Go duration string bounding one request.
	Timeout string `json:"timeout,omitempty"`

	RatePerSec      int     `json:"rate_per_sec,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Spec is a cron expression; defaults to twice a day.
	Spec string `json:"spec,omitempty"`

	Workers    int    `json:"workers,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

type PolicyConfig struct {
	Defaults PreferenceConfig `json:"defaults,omitempty"`

	// CacheSize bounds the in-process policy state cache.
	CacheSize int `json:"cache_size,omitempty"`

	// IgnoreWindow is a Go duration string for repeated-ignore
	// suppression; IgnoreThreshold is the ignore count above which
	// notifications are held back within that window.
	IgnoreWindow    string `json:"ignore_window,omitempty"`
	IgnoreThreshold int    `json:"ignore_threshold,omitempty"`
}

// PreferenceConfig overrides the default preference for first-seen
// pairs. Pointer fields distinguish "omitted" from explicit zeros.
type PreferenceConfig struct {
	Enabled         *bool `json:"enabled,omitempty"`
	QuietStart      *int  `json:"quiet_start,omitempty"`
	QuietEnd        *int  `json:"quiet_end,omitempty"`
	MaxPerDay       *int  `json:"max_per_day,omitempty"`
	CooldownMinutes *int  `json:"cooldown_minutes,omitempty"`
}

type AdminConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Address string `json:"address,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// Validate rejects configurations the pipeline must not start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Oracle.APIKey) == "" {
		return errors.New("oracle.api_key is required")
	}
	for name, v := range map[string]*int{
		"policy.defaults.quiet_start": c.Policy.Defaults.QuietStart,
		"policy.defaults.quiet_end":   c.Policy.Defaults.QuietEnd,
	} {
		if v != nil && (*v < 0 || *v > 23) {
			return fmt.Errorf("%s: hour out of range: %d", name, *v)
		}
	}
	if v := c.Policy.Defaults.MaxPerDay; v != nil && *v < 0 {
		return errors.New("policy.defaults.max_per_day must be >= 0")
	}
	if v := c.Policy.Defaults.CooldownMinutes; v != nil && *v < 0 {
		return errors.New("policy.defaults.cooldown_minutes must be >= 0")
	}
	return nil
}
