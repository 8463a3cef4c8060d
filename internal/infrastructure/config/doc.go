// Package config loads and validates Coachsync Core configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (COACHSYNC_* prefix). Defaults are applied first, then the file, then the
// environment, so a minimal config file is enough for development while
// production deployments can override secrets without touching the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	log := logging.New(cfg.Logging, version)
package config
