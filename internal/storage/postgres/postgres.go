// Package postgres implements the storage contract on PostgreSQL using pgx.
// All records live in one table mirroring the logical single-table design:
// primary key (pk, sk), optional secondary-index columns, a JSONB document
// and a version counter used for conditional writes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventdesk/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	pk      TEXT   NOT NULL,
	sk      TEXT   NOT NULL,
	gsi1pk  TEXT   NOT NULL DEFAULT '',
	gsi1sk  TEXT   NOT NULL DEFAULT '',
	doc     JSONB  NOT NULL,
	version BIGINT NOT NULL,
	PRIMARY KEY (pk, sk)
);
CREATE INDEX IF NOT EXISTS items_gsi1 ON items (gsi1pk, gsi1sk) WHERE gsi1pk <> '';
`

// Store is a PostgreSQL-backed storage adapter.
type Store struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// New constructs a Store. timeout bounds every storage round trip.
func New(db *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// EnsureSchema creates the items table and index if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wrapErr converts timeouts into the retryable unavailability sentinel.
func wrapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Get returns the item at (pk, sk).
func (s *Store) Get(ctx context.Context, pk, sk string) (*storage.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item := storage.Item{PK: pk, SK: sk}
	err := s.db.QueryRow(ctx,
		`SELECT gsi1pk, gsi1sk, doc, version FROM items WHERE pk = $1 AND sk = $2`,
		pk, sk,
	).Scan(&item.GSI1PK, &item.GSI1SK, &item.Doc, &item.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrItemNotFound
		}
		return nil, wrapErr("get item", err)
	}
	return &item, nil
}

// QueryPrefix returns the items in partition pk whose sort key begins with
// skPrefix, ordered by sort key. Key components never contain LIKE
// metacharacters, so the prefix is safe to splice into a pattern.
func (s *Store) QueryPrefix(ctx context.Context, pk, skPrefix string) ([]storage.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx,
		`SELECT pk, sk, gsi1pk, gsi1sk, doc, version
		 FROM items
		 WHERE pk = $1 AND sk LIKE $2
		 ORDER BY sk`,
		pk, skPrefix+"%",
	)
	if err != nil {
		return nil, wrapErr("query prefix", err)
	}
	return scanItems(rows)
}

// QueryIndex returns the items under gsi1pk whose index sort key begins with
// gsi1skPrefix, ordered by index sort key.
func (s *Store) QueryIndex(ctx context.Context, gsi1pk, gsi1skPrefix string) ([]storage.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx,
		`SELECT pk, sk, gsi1pk, gsi1sk, doc, version
		 FROM items
		 WHERE gsi1pk = $1 AND gsi1sk LIKE $2
		 ORDER BY gsi1sk`,
		gsi1pk, gsi1skPrefix+"%",
	)
	if err != nil {
		return nil, wrapErr("query index", err)
	}
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]storage.Item, error) {
	defer rows.Close()

	var items []storage.Item
	for rows.Next() {
		var item storage.Item
		if err := rows.Scan(&item.PK, &item.SK, &item.GSI1PK, &item.GSI1SK, &item.Doc, &item.Version); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("read items", err)
	}
	return items, nil
}

// TransactWrite applies ops inside a single transaction. Each conditional
// statement carries its own guard in SQL; a statement that affects zero rows
// means the condition did not hold, and the transaction is rolled back.
func (s *Store) TransactWrite(ctx context.Context, ops ...storage.WriteOp) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, op := range ops {
		ok, err := applyOp(ctx, tx, op)
		if err != nil {
			return wrapErr("apply write", err)
		}
		if !ok {
			return storage.ErrConditionFailed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx pgx.Tx, op storage.WriteOp) (bool, error) {
	item := op.Item
	switch op.Kind {
	case storage.OpPut:
		switch op.Cond {
		case storage.CondAbsent:
			tag, err := tx.Exec(ctx,
				`INSERT INTO items (pk, sk, gsi1pk, gsi1sk, doc, version)
				 VALUES ($1, $2, $3, $4, $5, 1)
				 ON CONFLICT (pk, sk) DO NOTHING`,
				item.PK, item.SK, item.GSI1PK, item.GSI1SK, item.Doc,
			)
			if err != nil {
				return false, err
			}
			return tag.RowsAffected() == 1, nil

		case storage.CondVersion:
			tag, err := tx.Exec(ctx,
				`UPDATE items
				 SET gsi1pk = $3, gsi1sk = $4, doc = $5, version = version + 1
				 WHERE pk = $1 AND sk = $2 AND version = $6`,
				item.PK, item.SK, item.GSI1PK, item.GSI1SK, item.Doc, op.ExpectedVersion,
			)
			if err != nil {
				return false, err
			}
			return tag.RowsAffected() == 1, nil

		default:
			_, err := tx.Exec(ctx,
				`INSERT INTO items (pk, sk, gsi1pk, gsi1sk, doc, version)
				 VALUES ($1, $2, $3, $4, $5, 1)
				 ON CONFLICT (pk, sk) DO UPDATE
				 SET gsi1pk = EXCLUDED.gsi1pk, gsi1sk = EXCLUDED.gsi1sk,
				     doc = EXCLUDED.doc, version = items.version + 1`,
				item.PK, item.SK, item.GSI1PK, item.GSI1SK, item.Doc,
			)
			return err == nil, err
		}

	case storage.OpDelete:
		switch op.Cond {
		case storage.CondVersion:
			tag, err := tx.Exec(ctx,
				`DELETE FROM items WHERE pk = $1 AND sk = $2 AND version = $3`,
				item.PK, item.SK, op.ExpectedVersion,
			)
			if err != nil {
				return false, err
			}
			return tag.RowsAffected() == 1, nil

		case storage.CondExists:
			tag, err := tx.Exec(ctx,
				`DELETE FROM items WHERE pk = $1 AND sk = $2`,
				item.PK, item.SK,
			)
			if err != nil {
				return false, err
			}
			return tag.RowsAffected() == 1, nil

		default:
			_, err := tx.Exec(ctx,
				`DELETE FROM items WHERE pk = $1 AND sk = $2`,
				item.PK, item.SK,
			)
			return err == nil, err
		}
	}
	return false, fmt.Errorf("unknown write op kind %d", op.Kind)
}
