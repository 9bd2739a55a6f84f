// Package pgstore implements store.Store on PostgreSQL. Conditional puts are
// expressed as single statements whose affected row count tells whether the
// condition held, so concurrent claims on one key are serialized by the
// primary key.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bonzai/pkg/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const TableName = "records"

const Schema = `
CREATE TABLE IF NOT EXISTS records (
	pk      TEXT NOT NULL,
	sk      TEXT NOT NULL,
	owner   TEXT NOT NULL DEFAULT '',
	status  TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL DEFAULT 0,
	date    TEXT NOT NULL DEFAULT '',
	body    JSONB,
	PRIMARY KEY (pk, sk)
);
ALTER TABLE records ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS records_date_idx ON records (date) WHERE date <> '';
CREATE INDEX IF NOT EXISTS records_sk_pk_idx ON records (sk, pk);
`

// Put statements take the item as $1..$7 and the condition from $8 on.
const (
	selectColumns = `SELECT pk, sk, owner, status, version, date, body FROM records`

	insertColumns = `INSERT INTO records (pk, sk, owner, status, version, date, body)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`

	setColumns = `owner = $3, status = $4, version = $5, date = $6, body = $7::jsonb`

	insertIfAbsent = insertColumns + `
ON CONFLICT (pk, sk) DO NOTHING`

	upsertIfOwned = insertColumns + `
ON CONFLICT (pk, sk) DO UPDATE
SET owner = EXCLUDED.owner, status = EXCLUDED.status, version = EXCLUDED.version, date = EXCLUDED.date, body = EXCLUDED.body
WHERE records.owner = $8`

	upsert = insertColumns + `
ON CONFLICT (pk, sk) DO UPDATE
SET owner = EXCLUDED.owner, status = EXCLUDED.status, version = EXCLUDED.version, date = EXCLUDED.date, body = EXCLUDED.body`

	updateByKey = `UPDATE records SET ` + setColumns + `
WHERE pk = $1 AND sk = $2`

	updateIfOwned              = updateByKey + ` AND owner = $8`
	updateIfStatusNot          = updateByKey + ` AND status <> $8`
	updateIfVersion            = updateByKey + ` AND version = $8`
	updateIfStatusNotAtVersion = updateByKey + ` AND status <> $8 AND version = $9`

	deleteByKey                = `DELETE FROM records WHERE pk = $1 AND sk = $2`
	deleteIfOwned              = deleteByKey + ` AND owner = $3`
	deleteIfStatusNot          = deleteByKey + ` AND status <> $3`
	deleteIfVersion            = deleteByKey + ` AND version = $3`
	deleteIfStatusNotAtVersion = deleteByKey + ` AND status <> $3 AND version = $4`
)

type Store struct {
	pool        *pgxpool.Pool
	readTimeout time.Duration
}

func New(pool *pgxpool.Pool, readTimeout time.Duration) *Store {
	return &Store{pool: pool, readTimeout: readTimeout}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the records table and its indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create %s table: %w", TableName, err)
	}
	return nil
}

func (s *Store) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.readTimeout)
}

func (s *Store) Get(ctx context.Context, key store.Key) (*store.Item, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, selectColumns+` WHERE pk = $1 AND sk = $2`, key.PK, key.SK)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &item, nil
}

func (s *Store) Query(ctx context.Context, pk string) ([]store.Item, error) {
	return s.query(ctx, selectColumns+` WHERE pk = $1 ORDER BY sk`, pk)
}

func (s *Store) QueryRange(ctx context.Context, pk, fromSK, toSK string, limit int) ([]store.Item, error) {
	sql := selectColumns + ` WHERE pk = $1 AND sk >= $2 AND sk <= $3 ORDER BY sk`
	if limit > 0 {
		return s.query(ctx, sql+` LIMIT $4`, pk, fromSK, toSK, limit)
	}
	return s.query(ctx, sql, pk, fromSK, toSK)
}

func (s *Store) QueryDate(ctx context.Context, date string) ([]store.Item, error) {
	return s.query(ctx, selectColumns+` WHERE date = $1 ORDER BY pk, sk`, date)
}

func (s *Store) QuerySortKey(ctx context.Context, sk string, limit int, offset int64) ([]store.Item, int64, error) {
	countCtx, cancel := s.readCtx(ctx)
	var total int64
	err := s.pool.QueryRow(countCtx, `SELECT count(*) FROM records WHERE sk = $1`, sk).Scan(&total)
	cancel()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	sql := selectColumns + ` WHERE sk = $1 ORDER BY pk OFFSET $2`
	args := []any{sk, offset}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}
	items, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]store.Item, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	items := make([]store.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (store.Item, error) {
	var item store.Item
	var body []byte
	if err := row.Scan(&item.PK, &item.SK, &item.Owner, &item.Status, &item.Version, &item.Date, &body); err != nil {
		return store.Item{}, err
	}
	if len(body) > 0 {
		item.Body = body
	}
	return item, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []store.Op) (err error) {
	if err := store.ValidateOps(ops); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for i, op := range ops {
		sql, args := statementFor(op)
		tag, execErr := tx.Exec(ctx, sql, args...)
		if execErr != nil {
			if isContention(execErr) {
				return store.Canceled(len(ops), i)
			}
			return fmt.Errorf("failed to apply %s on %s: %w", op.Kind, op.Item.Key, execErr)
		}
		if op.Cond.Kind != store.CondNone && tag.RowsAffected() == 0 {
			return store.Canceled(len(ops), i)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func statementFor(op store.Op) (string, []any) {
	it := op.Item
	if op.Kind == store.OpDelete {
		switch op.Cond.Kind {
		case store.CondOwnedBy:
			return deleteIfOwned, []any{it.PK, it.SK, op.Cond.Value}
		case store.CondStatusNot:
			return deleteIfStatusNot, []any{it.PK, it.SK, op.Cond.Value}
		case store.CondVersion:
			return deleteIfVersion, []any{it.PK, it.SK, op.Cond.Version}
		case store.CondStatusNotAtVersion:
			return deleteIfStatusNotAtVersion, []any{it.PK, it.SK, op.Cond.Value, op.Cond.Version}
		default:
			return deleteByKey, []any{it.PK, it.SK}
		}
	}

	var body any
	if len(it.Body) > 0 {
		body = string(it.Body)
	}
	args := []any{it.PK, it.SK, it.Owner, it.Status, it.Version, it.Date, body}

	switch op.Cond.Kind {
	case store.CondAbsent:
		return insertIfAbsent, args
	case store.CondAbsentOrOwnedBy:
		return upsertIfOwned, append(args, op.Cond.Value)
	case store.CondOwnedBy:
		return updateIfOwned, append(args, op.Cond.Value)
	case store.CondStatusNot:
		return updateIfStatusNot, append(args, op.Cond.Value)
	case store.CondVersion:
		return updateIfVersion, append(args, op.Cond.Version)
	case store.CondStatusNotAtVersion:
		return updateIfStatusNotAtVersion, append(args, op.Cond.Value, op.Cond.Version)
	default:
		return upsert, args
	}
}

// isContention reports deadlock and serialization failures, which mean a
// concurrent transaction won the race for one of the keys.
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}
