// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/identityindex/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for the index tool.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, mongo_database, etc.
//   - Environment variables: IDENTITYINDEX_MONGO_URI, IDENTITYINDEX_DRY_RUN, etc.
//   - Command-line flags: --mongo_uri, --dry_run, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "identity", Desc: "MongoDB database holding the identity collections"},
	{Name: "mongo_connect_timeout", Default: "10s", Desc: "Connect and ping timeout (e.g., 10s)"},

	{Name: "timeout_ping", Default: timeouts.DefaultPing.String(), Desc: "Ping timeout"},
	{Name: "timeout_short", Default: timeouts.DefaultShort.String(), Desc: "Timeout for stats and index listings"},
	{Name: "timeout_long", Default: timeouts.DefaultLong.String(), Desc: "Timeout for a single index build"},

	{Name: "dry_run", Default: false, Desc: "Report planned indexes without creating them"},
	{Name: "serve_probes", Default: false, Desc: "Serve /health and /indexes on http_port after the run"},
}

// envPrefix scopes environment variables: IDENTITYINDEX_MONGO_URI, ...
const envPrefix = "IDENTITYINDEX"

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// IDENTITYINDEX_* environment variables and command-line flags, merged
// with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, envPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:            appValues.String("mongo_uri"),
		MongoDatabase:       appValues.String("mongo_database"),
		MongoConnectTimeout: appValues.Duration("mongo_connect_timeout", 10*time.Second),

		TimeoutPing:  appValues.Duration("timeout_ping", timeouts.DefaultPing),
		TimeoutShort: appValues.Duration("timeout_short", timeouts.DefaultShort),
		TimeoutLong:  appValues.Duration("timeout_long", timeouts.DefaultLong),

		DryRun:      appValues.Bool("dry_run"),
		ServeProbes: appValues.Bool("serve_probes"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// The MongoDB URI is checked for format before any connection attempt so a
// typo fails in milliseconds rather than after the connect timeout.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return errors.New("mongo_database must be set")
	}
	if appCfg.MongoConnectTimeout <= 0 {
		return fmt.Errorf("mongo_connect_timeout must be positive, got %s", appCfg.MongoConnectTimeout)
	}
	return nil
}

// applyTimeouts pushes configured request timeouts into the timeouts
// package; zero values keep the defaults.
func applyTimeouts(appCfg AppConfig, logger *zap.Logger) {
	timeouts.Configure(timeouts.Config{
		Ping:  appCfg.TimeoutPing,
		Short: appCfg.TimeoutShort,
		Long:  appCfg.TimeoutLong,
	})
	cur := timeouts.Current()
	logger.Info("request timeouts",
		zap.Duration("ping", cur.Ping),
		zap.Duration("short", cur.Short),
		zap.Duration("long", cur.Long))
}
