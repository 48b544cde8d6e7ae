package app

import (
	"fmt"
	"time"

	"backbone/internal/config"
	"backbone/internal/services/auth"
	"backbone/internal/services/hub"
	"backbone/internal/services/jobs"
	"backbone/internal/services/ratelimit"
	"backbone/internal/storage"
)

// serviceConfigs is the file config mapped onto the per-service configs.
// Building it doubles as validation (all duration strings must parse), so
// the same function backs the config manager's validator hook.
type serviceConfigs struct {
	jobs    jobs.Config
	auth    auth.Config
	rate    ratelimit.Config
	hub     hub.Config
	storage storage.Config
}

func buildServiceConfigs(cfg *config.Config) (serviceConfigs, error) {
	var sc serviceConfigs

	scan, err := config.ParseDurationOrDefault("jobs.scan_interval", cfg.Jobs.ScanInterval, time.Second)
	if err != nil {
		return sc, err
	}
	retention, err := config.ParseDurationOrDefault("jobs.retention", cfg.Jobs.Retention, 24*time.Hour)
	if err != nil {
		return sc, err
	}
	defRetries := 3
	if cfg.Jobs.DefaultMaxRetries != nil {
		if *cfg.Jobs.DefaultMaxRetries < 0 {
			return sc, fmt.Errorf("jobs.default_max_retries: must be >= 0")
		}
		defRetries = *cfg.Jobs.DefaultMaxRetries
	}
	sc.jobs = jobs.Config{
		Enabled:           cfg.JobsEnabled(),
		ScanInterval:      scan,
		Retention:         retention,
		DefaultMaxRetries: defRetries,
	}

	ttl, err := config.ParseDurationOrDefault("auth.token_ttl", cfg.Auth.TokenTTL, 30*time.Minute)
	if err != nil {
		return sc, err
	}
	sc.auth = auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: ttl,
	}

	window, err := config.ParseDurationOrDefault("rate_limit.window", cfg.RateLimit.Window, time.Minute)
	if err != nil {
		return sc, err
	}
	sc.rate = ratelimit.Config{
		Capacity: cfg.RateLimit.Capacity,
		Window:   window,
	}

	sendTimeout, err := config.ParseDurationOrDefault("hub.send_timeout", cfg.Hub.SendTimeout, 5*time.Second)
	if err != nil {
		return sc, err
	}
	sc.hub = hub.Config{
		RatePerSec:  cfg.Hub.RatePerSec,
		SendTimeout: sendTimeout,
	}

	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return sc, err
		}
		sc.storage = storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}
	}

	return sc, nil
}
