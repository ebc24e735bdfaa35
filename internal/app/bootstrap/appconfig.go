// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds the configuration for one index run.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig is loaded
// alongside it and supplies log_level, env, index_boot_timeout and the
// http_port used by the probe server.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI            string        // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase       string        // Database holding the identity collections
	MongoConnectTimeout time.Duration // Bound on connect + initial ping

	// Per-request timeouts (see internal/app/system/timeouts)
	TimeoutPing  time.Duration
	TimeoutShort time.Duration // stats and index listings
	TimeoutLong  time.Duration // one index build

	// DryRun reports what would be created without creating it.
	DryRun bool

	// ServeProbes keeps the process alive after the run and serves /health
	// and /indexes on WAFFLE's http_port until SIGINT/SIGTERM.
	ServeProbes bool
}
