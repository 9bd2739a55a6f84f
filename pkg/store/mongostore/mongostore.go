// Package mongostore implements store.Store on a single MongoDB collection
// using multi-document transactions. Every record is one document whose _id
// is derived from its (pk, sk) pair, so the unique _id index is the
// conditional-write primitive.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	mongotx "bonzai/pkg/db/mongo"
	"bonzai/pkg/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "Records"

// Version is always written so a version filter of zero matches.
type record struct {
	ID      string   `bson:"_id"`
	PK      string   `bson:"pk"`
	SK      string   `bson:"sk"`
	Owner   string   `bson:"owner,omitempty"`
	Status  string   `bson:"status,omitempty"`
	Version int64    `bson:"version"`
	Date    string   `bson:"date,omitempty"`
	Body    bson.Raw `bson:"body,omitempty"`
}

type Store struct {
	collection   *mongo.Collection
	txManager    mongotx.TransactionManager
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func New(client *mongo.Client, database string, readTimeout, writeTimeout time.Duration) *Store {
	return &Store{
		collection:   client.Database(database).Collection(CollectionName),
		txManager:    mongotx.NewTransactionManager(client),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func recordID(k store.Key) string {
	return k.PK + "|" + k.SK
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// A SessionContext is returned unchanged because wrapping it would detach the
// operations from the session.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && time.Until(deadline) < timeout {
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithTimeout(ctx, timeout)
}

func toRecord(item store.Item) (record, error) {
	rec := record{
		ID:      recordID(item.Key),
		PK:      item.PK,
		SK:      item.SK,
		Owner:   item.Owner,
		Status:  item.Status,
		Version: item.Version,
		Date:    item.Date,
	}
	if len(item.Body) > 0 {
		var doc bson.D
		if err := bson.UnmarshalExtJSON(item.Body, false, &doc); err != nil {
			return record{}, fmt.Errorf("failed to convert body of %s: %w", item.Key, err)
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			return record{}, fmt.Errorf("failed to encode body of %s: %w", item.Key, err)
		}
		rec.Body = raw
	}
	return rec, nil
}

func fromRecord(rec record) (store.Item, error) {
	item := store.Item{
		Key:     store.Key{PK: rec.PK, SK: rec.SK},
		Owner:   rec.Owner,
		Status:  rec.Status,
		Version: rec.Version,
		Date:    rec.Date,
	}
	if len(rec.Body) > 0 {
		body, err := bson.MarshalExtJSON(rec.Body, false, false)
		if err != nil {
			return store.Item{}, fmt.Errorf("failed to decode body of %s: %w", item.Key, err)
		}
		item.Body = body
	}
	return item, nil
}

func (s *Store) Get(ctx context.Context, key store.Key) (*store.Item, error) {
	ctx, cancel := withTimeout(ctx, s.readTimeout)
	defer cancel()

	var rec record
	err := s.collection.FindOne(ctx, bson.M{"_id": recordID(key)}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	item, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Query(ctx context.Context, pk string) ([]store.Item, error) {
	return s.find(ctx, bson.M{"pk": pk}, options.Find().SetSort(bson.D{{Key: "sk", Value: 1}}))
}

func (s *Store) QueryRange(ctx context.Context, pk, fromSK, toSK string, limit int) ([]store.Item, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sk", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	filter := bson.M{"pk": pk, "sk": bson.M{"$gte": fromSK, "$lte": toSK}}
	return s.find(ctx, filter, opts)
}

func (s *Store) QueryDate(ctx context.Context, date string) ([]store.Item, error) {
	opts := options.Find().SetSort(bson.D{{Key: "pk", Value: 1}, {Key: "sk", Value: 1}})
	return s.find(ctx, bson.M{"date": date}, opts)
}

func (s *Store) QuerySortKey(ctx context.Context, sk string, limit int, offset int64) ([]store.Item, int64, error) {
	filter := bson.M{"sk": sk}

	countCtx, cancel := withTimeout(ctx, s.readTimeout)
	total, err := s.collection.CountDocuments(countCtx, filter)
	cancel()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "pk", Value: 1}}).
		SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	items, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]store.Item, error) {
	ctx, cancel := withTimeout(ctx, s.readTimeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var recs []record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	items := make([]store.Item, 0, len(recs))
	for _, rec := range recs {
		item, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []store.Op) error {
	if err := store.ValidateOps(ops); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.writeTimeout)
	defer cancel()

	return s.txManager.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		for i, op := range ops {
			ok, err := s.apply(sessCtx, op)
			if err != nil {
				// Returned as-is so the driver can retry transient errors.
				return err
			}
			if !ok {
				return store.Canceled(len(ops), i)
			}
		}
		return nil
	})
}

// apply executes one op inside the session and reports whether its
// condition held.
func (s *Store) apply(ctx mongo.SessionContext, op store.Op) (bool, error) {
	id := recordID(op.Item.Key)

	if op.Kind == store.OpDelete {
		filter := bson.D{{Key: "_id", Value: id}}
		filter = append(filter, conditionFilter(op.Cond)...)
		res, err := s.collection.DeleteOne(ctx, filter)
		if err != nil {
			return false, err
		}
		if op.Cond.Kind == store.CondNone {
			return true, nil
		}
		return res.DeletedCount == 1, nil
	}

	rec, err := toRecord(op.Item)
	if err != nil {
		return false, err
	}

	switch op.Cond.Kind {
	case store.CondAbsent:
		if _, err := s.collection.InsertOne(ctx, rec); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil

	case store.CondAbsentOrOwnedBy:
		// A foreign owner makes the filter miss, so the upsert collides on _id.
		filter := bson.D{{Key: "_id", Value: id}, {Key: "owner", Value: op.Cond.Value}}
		_, err := s.collection.ReplaceOne(ctx, filter, rec, options.Replace().SetUpsert(true))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil

	case store.CondOwnedBy, store.CondStatusNot, store.CondVersion, store.CondStatusNotAtVersion:
		filter := bson.D{{Key: "_id", Value: id}}
		filter = append(filter, conditionFilter(op.Cond)...)
		res, err := s.collection.ReplaceOne(ctx, filter, rec)
		if err != nil {
			return false, err
		}
		return res.MatchedCount == 1, nil

	default:
		_, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, rec, options.Replace().SetUpsert(true))
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

func conditionFilter(c store.Condition) bson.D {
	switch c.Kind {
	case store.CondOwnedBy:
		return bson.D{{Key: "owner", Value: c.Value}}
	case store.CondStatusNot:
		return bson.D{{Key: "status", Value: bson.M{"$ne": c.Value}}}
	case store.CondVersion:
		return bson.D{{Key: "version", Value: c.Version}}
	case store.CondStatusNotAtVersion:
		return bson.D{
			{Key: "status", Value: bson.M{"$ne": c.Value}},
			{Key: "version", Value: c.Version},
		}
	default:
		return nil
	}
}
