// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/identityindex/internal/app/system/indexes"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB opens the Mongo client and verifies the primary answers.
// The returned client must be released with Shutdown.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	ctx, cancel := context.WithTimeout(ctx, appCfg.MongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(appCfg.MongoURI).
		SetAppName("identityindex"))
	if err != nil {
		return DBDeps{}, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return DBDeps{}, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))
	return DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
	}, nil
}

// EnsureSchema declares the identity indexes and logs a summary of the
// run. The report is returned even when the run fails part way.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*indexes.Report, error) {
	rep, err := indexes.Apply(ctx, deps.MongoDatabase, indexes.Plan, indexes.Options{DryRun: appCfg.DryRun})
	logSummary(rep, logger)
	if err != nil {
		return rep, fmt.Errorf("ensure indexes: %w", err)
	}
	return rep, nil
}

func logSummary(rep *indexes.Report, logger *zap.Logger) {
	if rep == nil {
		return
	}
	var created, exists, planned int
	for _, cr := range rep.Collections {
		for _, d := range cr.Declarations {
			switch d.Outcome {
			case indexes.OutcomeCreated:
				created++
			case indexes.OutcomeExists:
				exists++
			case indexes.OutcomePlanned:
				planned++
			}
		}
	}
	logger.Info("index run finished",
		zap.String("run_id", rep.RunID),
		zap.String("database", rep.Database),
		zap.Bool("dry_run", rep.DryRun),
		zap.Int("collections", len(rep.Collections)),
		zap.Int("created", created),
		zap.Int("exists", exists),
		zap.Int("planned", planned),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)))
}
