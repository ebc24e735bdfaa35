// internal/app/bootstrap/run.go
package bootstrap

import (
	"context"
	"time"

	healthfeature "github.com/dalemusser/identityindex/internal/app/features/health"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/logging"
	"github.com/dalemusser/waffle/server"
	"go.uber.org/zap"
)

// defaultShutdownTimeout applies when no core config is available (tests).
const defaultShutdownTimeout = 15 * time.Second

// Run executes the index tool lifecycle:
//
//  1. Bootstrap logger
//  2. LoadConfig and ValidateConfig
//  3. Build the final logger from log_level and env
//  4. Wire SIGINT/SIGTERM to ctx
//  5. ConnectDB → EnsureSchema (bounded by index_boot_timeout)
//  6. With serve_probes, serve /health and /indexes on http_port until shutdown
//  7. Shutdown
//
// Any failure stops the sequence and is returned.
func Run(ctx context.Context) error {
	boot := logging.BootstrapLogger()
	defer func() { _ = boot.Sync() }()

	coreCfg, appCfg, err := LoadConfig(boot)
	if err != nil {
		boot.Error("config load failed", zap.Error(err))
		return err
	}
	boot.Info("config loaded",
		zap.String("env", coreCfg.Env),
		zap.String("log_level", coreCfg.LogLevel))

	if err := ValidateConfig(coreCfg, appCfg, boot); err != nil {
		boot.Error("config validation failed", zap.Error(err))
		return err
	}

	logger := logging.MustBuildLogger(coreCfg.LogLevel, coreCfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, cancel := server.WithShutdownSignals(ctx, logger)
	defer cancel()

	if err := RunWithConfig(ctx, coreCfg, appCfg, logger); err != nil {
		logger.Error("identityindex failed", zap.Error(err))
		return err
	}
	return nil
}

// RunWithConfig is Run with configuration already loaded. coreCfg may be
// nil when probes are off; the index run is then bounded only by ctx.
func RunWithConfig(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	applyTimeouts(appCfg, logger)

	deps, err := ConnectDB(ctx, coreCfg, appCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(coreCfg))
		defer cancel()
		_ = Shutdown(sctx, coreCfg, appCfg, deps, logger)
	}()

	schemaCtx, schemaCancel := ctx, context.CancelFunc(func() {})
	if coreCfg != nil && coreCfg.IndexBootTimeout > 0 {
		schemaCtx, schemaCancel = context.WithTimeout(ctx, coreCfg.IndexBootTimeout)
	}
	rep, err := EnsureSchema(schemaCtx, coreCfg, appCfg, deps, logger)
	schemaCancel()
	if err != nil {
		return err
	}

	if !appCfg.ServeProbes {
		return nil
	}

	probes := healthfeature.NewHandler(deps.MongoClient, logger)
	probes.SetReport(rep)
	handler, err := BuildHandler(coreCfg, appCfg, deps, probes, logger)
	if err != nil {
		return err
	}
	return server.ListenAndServeWithContext(ctx, coreCfg, handler, logger)
}

func shutdownTimeout(coreCfg *config.CoreConfig) time.Duration {
	if coreCfg != nil && coreCfg.HTTP.ShutdownTimeout > 0 {
		return coreCfg.HTTP.ShutdownTimeout
	}
	return defaultShutdownTimeout
}
