package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bonzai/internal/migrations/mongo/validators"
	"bonzai/pkg/logger"
	"bonzai/pkg/store/mongostore"
)

var RecordsIndexes = []mongo.IndexModel{
	{
		Keys:    bson.D{{Key: "pk", Value: 1}, {Key: "sk", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("pk_sk_unique"),
	},
	{
		Keys:    bson.D{{Key: "sk", Value: 1}, {Key: "pk", Value: 1}},
		Options: options.Index().SetName("sk_pk"),
	},
	{
		Keys: bson.D{{Key: "date", Value: 1}, {Key: "pk", Value: 1}},
		Options: options.Index().
			SetName("date_pk").
			SetPartialFilterExpression(bson.M{"date": bson.M{"$exists": true}}),
	},
}

// RunMigration creates the records collection with its validator and
// indexes. It is safe to run repeatedly.
func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	if err := ensureCollection(ctx, db, mongostore.CollectionName, validators.RecordValidator, log); err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", mongostore.CollectionName, err)
	}
	if err := ensureIndexes(ctx, db, mongostore.CollectionName, RecordsIndexes, log); err != nil {
		return fmt.Errorf("failed to ensure indexes for %s: %w", mongostore.CollectionName, err)
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection already exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	coll := db.Collection(name)
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
