// Package config provides centralized configuration management for the
// license authority and the monitored instance. It loads configuration from
// multiple sources, validates it and exposes a typed API to the rest of the
// application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables that are explicitly set (highest priority)
//	2. A YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LICENSEHUB_<SECTION>_<FIELD>:
//
//	LICENSEHUB_SERVER_PORT=8081
//	LICENSEHUB_DATABASE_DRIVER=postgres
//	LICENSEHUB_DATABASE_DSN=postgres://...
//	LICENSEHUB_LICENSE_AUTHORITY_URL=https://portal.example.com
//	LICENSEHUB_LICENSE_GRACE_PERIOD=168h
//	LICENSEHUB_REAPER_DORMANCY_PERIOD=8760h
//
// The config file location may be forced with LICENSEHUB_CONFIG_FILE;
// otherwise config.yaml and configs/config.yaml are probed.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
