package config

import (
	"fmt"

	"go-libgen-download/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults applied when the config file leaves a knob unset.
const (
	DefaultCatalogBaseURL = "http://libgen.rs"
	DefaultDelayMs        = 2000
	DefaultJitterMs       = 500
	DefaultQueryPauseSec  = 5
	DefaultHttpTimeoutSec = 60
	DefaultMaxResults     = 5
	DefaultSizeLimitMB    = 100
	DefaultMaxAttempts    = 3
)

// DefaultDirectHosts are hosting domains known to serve file bytes directly
// rather than another landing page.
var DefaultDirectHosts = []string{
	"cloudflare-ipfs.com",
	"gateway.ipfs.io",
	"download.library.lol",
}

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml"), fills defaults, and returns the populated models.Config.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	var cfg models.Config
	if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.DownloadDir == "" {
		log.Warn("Warning: DownloadDir is not set in config.toml")
	}
	if cfg.DatabasePath == "" {
		log.Warn("Warning: DatabasePath is not set in config.toml")
	}

	ApplyDefaults(&cfg)

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with sane defaults. Separated from
// LoadConfig so flag overrides applied after loading are re-validated too.
func ApplyDefaults(cfg *models.Config) {
	if cfg.CatalogBaseURL == "" {
		cfg.CatalogBaseURL = DefaultCatalogBaseURL
	}
	if cfg.DelayMs <= 0 {
		cfg.DelayMs = DefaultDelayMs
	}
	if cfg.JitterMs <= 0 {
		cfg.JitterMs = DefaultJitterMs
	}
	if cfg.QueryPauseSec <= 0 {
		cfg.QueryPauseSec = DefaultQueryPauseSec
	}
	if cfg.HttpTimeoutSec <= 0 {
		cfg.HttpTimeoutSec = DefaultHttpTimeoutSec
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.SizeLimitMB <= 0 {
		cfg.SizeLimitMB = DefaultSizeLimitMB
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if len(cfg.DirectHosts) == 0 {
		cfg.DirectHosts = DefaultDirectHosts
	}
}
