// Package backend opens the store.Store selected by STORE_BACKEND.
package backend

import (
	"fmt"

	"bonzai/pkg/config"
	"bonzai/pkg/store"
	"bonzai/pkg/store/memory"
	"bonzai/pkg/store/mongostore"
	"bonzai/pkg/store/pgstore"
)

// Open connects the configured backend through cfg.Client and returns a
// store on top of it. Connection failures are fatal inside the Set methods.
func Open(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		cfg.Log.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	case config.StoreBackendMongo:
		cfg.SetMongo()
		return mongostore.New(cfg.Client.Mongo, cfg.MongoDatabaseName, cfg.MongoConnTimeout, cfg.RequestTimeout), nil
	case config.StoreBackendPostgres:
		cfg.SetPostgres()
		return pgstore.New(cfg.Client.Postgres, cfg.MongoConnTimeout), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
