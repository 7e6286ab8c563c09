//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"eventdesk/internal/storage"
	"eventdesk/internal/storage/postgres"
)

// Runs against a live PostgreSQL, e.g.
//
//	EVENTDESK_TEST_POSTGRES_DSN="host=localhost user=postgres password=postgres dbname=eventdesk_test sslmode=disable" \
//	  go test -tags integration ./internal/storage/postgres/...
type PostgresStoreSuite struct {
	suite.Suite
	pool  *pgxpool.Pool
	store *postgres.Store
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if os.Getenv("EVENTDESK_TEST_POSTGRES_DSN") == "" {
		t.Skip("EVENTDESK_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	pool, err := pgxpool.New(s.ctx, os.Getenv("EVENTDESK_TEST_POSTGRES_DSN"))
	s.Require().NoError(err)
	s.pool = pool
	s.store = postgres.New(pool, 5*time.Second)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	s.pool.Close()
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE items`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestConditionalWrites() {
	item := storage.Item{PK: "EVENT#e1", SK: "METADATA", GSI1PK: "EVENT", GSI1SK: "e1", Doc: []byte(`{"n":1}`)}

	s.Require().NoError(s.store.TransactWrite(s.ctx, storage.PutIfAbsent(item)))
	s.Require().ErrorIs(s.store.TransactWrite(s.ctx, storage.PutIfAbsent(item)), storage.ErrConditionFailed)

	got, err := s.store.Get(s.ctx, "EVENT#e1", "METADATA")
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)

	item.Doc = []byte(`{"n":2}`)
	s.Require().NoError(s.store.TransactWrite(s.ctx, storage.PutIfVersion(item, 1)))
	s.Require().ErrorIs(s.store.TransactWrite(s.ctx, storage.PutIfVersion(item, 1)), storage.ErrConditionFailed)

	got, err = s.store.Get(s.ctx, "EVENT#e1", "METADATA")
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.JSONEq(`{"n":2}`, string(got.Doc))
}

func (s *PostgresStoreSuite) TestTransactionAtomicity() {
	ev := storage.Item{PK: "EVENT#e1", SK: "METADATA", Doc: []byte(`{}`)}
	s.Require().NoError(s.store.TransactWrite(s.ctx, storage.PutIfAbsent(ev)))

	reg := storage.Item{PK: "EVENT#e1", SK: "REG#u1", Doc: []byte(`{}`)}
	err := s.store.TransactWrite(s.ctx,
		storage.PutIfAbsent(reg),
		storage.PutIfVersion(ev, 42), // stale
	)
	s.Require().ErrorIs(err, storage.ErrConditionFailed)

	_, err = s.store.Get(s.ctx, "EVENT#e1", "REG#u1")
	s.Require().ErrorIs(err, storage.ErrItemNotFound)
}

func (s *PostgresStoreSuite) TestQueries() {
	put := func(pk, sk, gpk, gsk string) storage.WriteOp {
		return storage.Put(storage.Item{PK: pk, SK: sk, GSI1PK: gpk, GSI1SK: gsk, Doc: []byte(`{}`)})
	}
	s.Require().NoError(s.store.TransactWrite(s.ctx,
		put("EVENT#e1", "METADATA", "EVENT", "e1"),
		put("EVENT#e1", "REG#u2", "USER#u2", "REG#e1"),
		put("EVENT#e1", "REG#u1", "USER#u1", "REG#e1"),
		put("EVENT#e2", "REG#u1", "USER#u1", "REG#e2"),
	))

	items, err := s.store.QueryPrefix(s.ctx, "EVENT#e1", "REG#")
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("REG#u1", items[0].SK)
	s.Equal("REG#u2", items[1].SK)

	items, err = s.store.QueryIndex(s.ctx, "USER#u1", "REG#")
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("REG#e1", items[0].GSI1SK)
	s.Equal("REG#e2", items[1].GSI1SK)
}
