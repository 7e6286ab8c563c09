// Package redis implements the storage contract on Redis. Items are JSON
// values at one key per (pk, sk); a set per partition and a hash per
// secondary-index partition provide the query paths. Conditional batches run
// under WATCH, so a concurrent write to any touched key fails the batch the
// same way a stale version does.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"eventdesk/internal/storage"

	"github.com/redis/go-redis/v9"
)

// sep joins key components inside Redis members and fields. Identifiers in
// this system never contain control characters.
const sep = "\x1f"

func itemKey(pk, sk string) string { return "item:" + pk + sep + sk }
func partKey(pk string) string     { return "part:" + pk }
func gsiKey(gsi1pk string) string  { return "gsi:" + gsi1pk }

// record is the stored JSON shape of an item.
type record struct {
	GSI1PK  string          `json:"gsi1pk,omitempty"`
	GSI1SK  string          `json:"gsi1sk,omitempty"`
	Doc     json.RawMessage `json:"doc"`
	Version int64           `json:"version"`
}

// Store is a Redis-backed storage adapter.
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// Open connects to the Redis at url and verifies the connection.
func Open(ctx context.Context, url string, timeout time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, timeout), nil
}

// New constructs a Store around an existing client.
func New(client *redis.Client, timeout time.Duration) *Store {
	return &Store{client: client, timeout: timeout}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func wrapErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Get returns the item at (pk, sk).
func (s *Store) Get(ctx context.Context, pk, sk string) (*storage.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, itemKey(pk, sk)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, wrapErr("get item", err)
	}
	return decodeRecord(pk, sk, val)
}

// QueryPrefix returns the items in partition pk whose sort key begins with
// skPrefix, ordered by sort key.
func (s *Store) QueryPrefix(ctx context.Context, pk, skPrefix string) ([]storage.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sks, err := s.client.SMembers(ctx, partKey(pk)).Result()
	if err != nil {
		return nil, wrapErr("query partition", err)
	}
	var matched []string
	for _, sk := range sks {
		if strings.HasPrefix(sk, skPrefix) {
			matched = append(matched, sk)
		}
	}
	sort.Strings(matched)

	keys := make([]string, len(matched))
	for i, sk := range matched {
		keys[i] = itemKey(pk, sk)
	}
	return s.fetchItems(ctx, keys)
}

// QueryIndex returns the items under gsi1pk whose index sort key begins with
// gsi1skPrefix, ordered by index sort key.
func (s *Store) QueryIndex(ctx context.Context, gsi1pk, gsi1skPrefix string) ([]storage.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.client.HGetAll(ctx, gsiKey(gsi1pk)).Result()
	if err != nil {
		return nil, wrapErr("query index", err)
	}

	type ref struct{ gsi1sk, field string }
	refs := make([]ref, 0, len(entries))
	for field, gsi1sk := range entries {
		if strings.HasPrefix(gsi1sk, gsi1skPrefix) {
			refs = append(refs, ref{gsi1sk: gsi1sk, field: field})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].gsi1sk != refs[j].gsi1sk {
			return refs[i].gsi1sk < refs[j].gsi1sk
		}
		return refs[i].field < refs[j].field
	})

	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		pk, sk, ok := strings.Cut(r.field, sep)
		if !ok {
			continue
		}
		keys = append(keys, itemKey(pk, sk))
	}
	return s.fetchItems(ctx, keys)
}

// fetchItems MGETs the given item keys, skipping entries deleted since the
// index was read.
func (s *Store) fetchItems(ctx context.Context, keys []string) ([]storage.Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr("fetch items", err)
	}
	items := make([]storage.Item, 0, len(vals))
	for i, val := range vals {
		str, ok := val.(string)
		if !ok {
			continue
		}
		pk, sk, _ := strings.Cut(strings.TrimPrefix(keys[i], "item:"), sep)
		item, err := decodeRecord(pk, sk, str)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func decodeRecord(pk, sk, val string) (*storage.Item, error) {
	var rec record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode item %s/%s: %w", pk, sk, err)
	}
	return &storage.Item{
		PK:      pk,
		SK:      sk,
		GSI1PK:  rec.GSI1PK,
		GSI1SK:  rec.GSI1SK,
		Doc:     rec.Doc,
		Version: rec.Version,
	}, nil
}

// TransactWrite runs the batch under WATCH on every touched item key. A
// failed condition aborts directly; a concurrent write to a watched key makes
// the MULTI/EXEC fail, which surfaces the same way since the caller's
// observed state is stale either way.
func (s *Store) TransactWrite(ctx context.Context, ops ...storage.WriteOp) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys := make([]string, 0, len(ops))
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		key := itemKey(op.Item.PK, op.Item.SK)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing := make(map[string]*record, len(ops))
		for _, op := range ops {
			key := itemKey(op.Item.PK, op.Item.SK)
			val, err := tx.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				existing[key] = nil
				continue
			}
			if err != nil {
				return err
			}
			var rec record
			if err := json.Unmarshal([]byte(val), &rec); err != nil {
				return fmt.Errorf("decode item %s: %w", key, err)
			}
			existing[key] = &rec
		}

		for _, op := range ops {
			cur := existing[itemKey(op.Item.PK, op.Item.SK)]
			switch op.Cond {
			case storage.CondAbsent:
				if cur != nil {
					return storage.ErrConditionFailed
				}
			case storage.CondVersion:
				if cur == nil || cur.Version != op.ExpectedVersion {
					return storage.ErrConditionFailed
				}
			case storage.CondExists:
				if cur == nil {
					return storage.ErrConditionFailed
				}
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range ops {
				key := itemKey(op.Item.PK, op.Item.SK)
				cur := existing[key]
				field := op.Item.PK + sep + op.Item.SK

				switch op.Kind {
				case storage.OpPut:
					var version int64 = 1
					if cur != nil {
						version = cur.Version + 1
					}
					rec := record{
						GSI1PK:  op.Item.GSI1PK,
						GSI1SK:  op.Item.GSI1SK,
						Doc:     json.RawMessage(op.Item.Doc),
						Version: version,
					}
					val, err := json.Marshal(rec)
					if err != nil {
						return fmt.Errorf("encode item %s: %w", key, err)
					}
					pipe.Set(ctx, key, val, 0)
					pipe.SAdd(ctx, partKey(op.Item.PK), op.Item.SK)
					if cur != nil && cur.GSI1PK != "" && cur.GSI1PK != op.Item.GSI1PK {
						pipe.HDel(ctx, gsiKey(cur.GSI1PK), field)
					}
					if op.Item.GSI1PK != "" {
						pipe.HSet(ctx, gsiKey(op.Item.GSI1PK), field, op.Item.GSI1SK)
					}

				case storage.OpDelete:
					pipe.Del(ctx, key)
					pipe.SRem(ctx, partKey(op.Item.PK), op.Item.SK)
					if cur != nil && cur.GSI1PK != "" {
						pipe.HDel(ctx, gsiKey(cur.GSI1PK), field)
					}
				}
			}
			return nil
		})
		return err
	}, keys...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrConditionFailed):
		return storage.ErrConditionFailed
	case errors.Is(err, redis.TxFailedErr):
		return storage.ErrConditionFailed
	default:
		return wrapErr("transact write", err)
	}
}
