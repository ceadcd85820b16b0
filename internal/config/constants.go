package config

import "time"

// Application constants
const (
	// Application Info
	AppName    = "licensehub"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable, e.g. LICENSEHUB_SERVER_PORT
	EnvPrefix = "LICENSEHUB"

	// Database drivers
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// Local store backends
	LocalStoreSQLite = "sqlite"
	LocalStoreRedis  = "redis"

	// License revalidation
	DefaultGracePeriod     = 7 * 24 * time.Hour
	DefaultRefreshInterval = 1 * time.Hour
	DefaultCheckTimeout    = 10 * time.Second
	MinRefreshInterval     = 1 * time.Minute

	// Dormant license reaper
	DefaultDormancyPeriod = 365 * 24 * time.Hour
	DefaultReaperInterval = 24 * time.Hour

	// Store retry policy
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay  = 2 * time.Second

	// License key format: 20 random bytes, base32, grouped
	LicenseKeyEntropyBytes = 20
	LicenseKeyGroupSize    = 4

	// Paths
	LicenseExpiredPath = "/license/expired"
)
