// Package memory provides an in-process implementation of the storage
// contract. It backs unit tests and the STORAGE_BACKEND=memory mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"eventdesk/internal/storage"
)

// Store keeps all items in a map guarded by a single mutex. Holding the lock
// across condition checks and writes gives TransactWrite its atomicity.
type Store struct {
	mu    sync.RWMutex
	items map[storage.Key]storage.Item
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[storage.Key]storage.Item)}
}

// Get returns a copy of the item at (pk, sk).
func (s *Store) Get(_ context.Context, pk, sk string) (*storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[storage.Key{PK: pk, SK: sk}]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	out := cloneItem(item)
	return &out, nil
}

// QueryPrefix returns items in partition pk whose sort key starts with
// skPrefix, ordered by sort key.
func (s *Store) QueryPrefix(_ context.Context, pk, skPrefix string) ([]storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Item
	for key, item := range s.items {
		if key.PK == pk && strings.HasPrefix(key.SK, skPrefix) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SK < out[j].SK })
	return out, nil
}

// QueryIndex returns items on the secondary index under gsi1pk whose index
// sort key starts with gsi1skPrefix, ordered by index sort key.
func (s *Store) QueryIndex(_ context.Context, gsi1pk, gsi1skPrefix string) ([]storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Item
	for _, item := range s.items {
		if item.GSI1PK == gsi1pk && strings.HasPrefix(item.GSI1SK, gsi1skPrefix) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GSI1SK < out[j].GSI1SK })
	return out, nil
}

// TransactWrite checks every condition under the lock, then applies all
// writes. A single failed condition aborts the batch untouched.
func (s *Store) TransactWrite(_ context.Context, ops ...storage.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		key := storage.Key{PK: op.Item.PK, SK: op.Item.SK}
		existing, exists := s.items[key]

		switch op.Cond {
		case storage.CondAbsent:
			if exists {
				return storage.ErrConditionFailed
			}
		case storage.CondVersion:
			if !exists || existing.Version != op.ExpectedVersion {
				return storage.ErrConditionFailed
			}
		case storage.CondExists:
			if !exists {
				return storage.ErrConditionFailed
			}
		}
	}

	for _, op := range ops {
		key := storage.Key{PK: op.Item.PK, SK: op.Item.SK}
		switch op.Kind {
		case storage.OpPut:
			item := cloneItem(op.Item)
			item.Version = s.items[key].Version + 1
			s.items[key] = item
		case storage.OpDelete:
			delete(s.items, key)
		}
	}
	return nil
}

func cloneItem(item storage.Item) storage.Item {
	out := item
	out.Doc = append([]byte(nil), item.Doc...)
	return out
}
