package config

// Config is the root of backbone's configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Jobs      JobsConfig      `json:"jobs"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Hub       HubConfig       `json:"hub"`

	// Storage is optional; omitted means no persistence.
	Storage *StorageConfig `json:"storage,omitempty"`

	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// JobsConfig controls the background job service.
//
// Enabled and DefaultMaxRetries are pointers so an omitted field (use the
// default) is distinguishable from an explicit false / 0.
//
// Defaults (when fields are omitted/zero):
//   - scan_interval: "1s"
//   - retention: "24h"
//   - default_max_retries: 3
type JobsConfig struct {
	Enabled           *bool  `json:"enabled,omitempty"`
	ScanInterval      string `json:"scan_interval,omitempty"`
	Retention         string `json:"retention,omitempty"`
	DefaultMaxRetries *int   `json:"default_max_retries,omitempty"`
}

// AuthConfig controls token issuance.
//
// Security note: prefer setting the secret via config over relying on the
// per-process random fallback, or every restart logs everyone out.
type AuthConfig struct {
	Secret   string `json:"secret,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	TokenTTL string `json:"token_ttl,omitempty"` // default "30m"
}

type RateLimitConfig struct {
	Capacity int    `json:"capacity,omitempty"` // default 100
	Window   string `json:"window,omitempty"`   // default "1m"
}

type HubConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"` // default "5s"
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./backbone.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MaintenanceConfig holds the cron specs for the periodic sweeps.
// Specs accept the robfig/cron syntax including descriptors like
// "@every 1h".
//
// Defaults (when omitted):
//   - job_sweep: "@every 1h"
//   - revocation_sweep: "@every 10m"
//   - rate_limit_sweep: "@every 5m"
type MaintenanceConfig struct {
	JobSweep        string `json:"job_sweep,omitempty"`
	RevocationSweep string `json:"revocation_sweep,omitempty"`
	RateLimitSweep  string `json:"rate_limit_sweep,omitempty"`
}

func (m MaintenanceConfig) WithDefaults() MaintenanceConfig {
	if m.JobSweep == "" {
		m.JobSweep = "@every 1h"
	}
	if m.RevocationSweep == "" {
		m.RevocationSweep = "@every 10m"
	}
	if m.RateLimitSweep == "" {
		m.RateLimitSweep = "@every 5m"
	}
	return m
}

// JobsEnabled resolves the tri-state Enabled flag.
func (c *Config) JobsEnabled() bool {
	if c.Jobs.Enabled == nil {
		return true
	}
	return *c.Jobs.Enabled
}
