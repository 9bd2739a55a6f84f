package main

import (
	"context"
	"time"

	mongoMigration "bonzai/internal/migrations/mongo"
	"bonzai/pkg/config"
	"bonzai/pkg/store/pgstore"
)

const JobName = "migrate"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()
	cfg := config.Load(JobName)
	defer cfg.GracefulShutdown()

	switch cfg.StoreBackend {
	case config.StoreBackendMongo:
		migrateMongo(ctx, cfg)
	case config.StoreBackendPostgres:
		migratePostgres(ctx, cfg)
	default:
		cfg.Log.Info("Nothing to migrate", "store_backend", cfg.StoreBackend)
		return
	}
	cfg.Log.Info("Migration completed successfully", "store_backend", cfg.StoreBackend)
}

func migrateMongo(ctx context.Context, cfg *config.Config) {
	cfg.SetMongo()
	cfg.Log.Info("Starting Mongo migration job")
	if err := mongoMigration.RunMigration(ctx, cfg.Client.Mongo, cfg.MongoDatabaseName, cfg.Log); err != nil {
		cfg.Log.Fatal("Migration failed", "error", err)
	}
}

func migratePostgres(ctx context.Context, cfg *config.Config) {
	cfg.SetPostgres()
	cfg.Log.Info("Starting Postgres migration job")
	if err := pgstore.Migrate(ctx, cfg.Client.Postgres); err != nil {
		cfg.Log.Fatal("Migration failed", "error", err)
	}
}
