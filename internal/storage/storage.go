// Package storage defines the key-value storage contract the rest of the
// system is built on: keyed documents with store-managed versions,
// prefix/index queries, and all-or-nothing conditional write batches.
// Implementations live in the memory, postgres and redis subpackages.
package storage

import (
	"context"
	"errors"
)

// ErrItemNotFound is returned when the requested item does not exist.
var ErrItemNotFound = errors.New("item not found")

// ErrConditionFailed is returned when any condition in a write batch does not
// hold: an item expected absent already exists, an expected version is stale,
// or an item expected present is gone. The whole batch is discarded.
var ErrConditionFailed = errors.New("write condition failed")

// ErrUnavailable is returned when the backend times out or is unreachable.
// Callers may safely retry the whole operation.
var ErrUnavailable = errors.New("storage unavailable")

// Item is a single stored document. PK/SK form the primary key; GSI1PK/GSI1SK,
// when non-empty, place the item on the secondary index. Version starts at 1
// on first write and increments on every accepted put.
type Item struct {
	PK      string
	SK      string
	GSI1PK  string
	GSI1SK  string
	Doc     []byte
	Version int64
}

// Key identifies an item.
type Key struct {
	PK string
	SK string
}

// Condition guards a single write within a batch.
type Condition int

const (
	// CondNone applies the write unconditionally (upsert).
	CondNone Condition = iota
	// CondAbsent requires that no item exists at the key.
	CondAbsent
	// CondVersion requires the stored version to equal ExpectedVersion.
	CondVersion
	// CondExists requires an item to exist at the key (deletes only).
	CondExists
)

// OpKind distinguishes puts from deletes in a write batch.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// WriteOp is one conditional write in a TransactWrite batch.
type WriteOp struct {
	Kind            OpKind
	Item            Item
	Cond            Condition
	ExpectedVersion int64
}

// Put writes item unconditionally.
func Put(item Item) WriteOp {
	return WriteOp{Kind: OpPut, Item: item}
}

// PutIfAbsent writes item only if the key is vacant.
func PutIfAbsent(item Item) WriteOp {
	return WriteOp{Kind: OpPut, Item: item, Cond: CondAbsent}
}

// PutIfVersion writes item only if the stored version equals version.
func PutIfVersion(item Item, version int64) WriteOp {
	return WriteOp{Kind: OpPut, Item: item, Cond: CondVersion, ExpectedVersion: version}
}

// DeleteIfExists removes the item at key, failing the batch if it is absent.
func DeleteIfExists(key Key) WriteOp {
	return WriteOp{Kind: OpDelete, Item: Item{PK: key.PK, SK: key.SK}, Cond: CondExists}
}

// DeleteIfVersion removes the item at key only if its version equals version.
func DeleteIfVersion(key Key, version int64) WriteOp {
	return WriteOp{Kind: OpDelete, Item: Item{PK: key.PK, SK: key.SK}, Cond: CondVersion, ExpectedVersion: version}
}

// Store is the storage adapter contract. Implementations must apply
// TransactWrite batches atomically: either every op's condition holds and all
// writes land, or nothing is written and ErrConditionFailed is returned.
type Store interface {
	// Get returns the item at (pk, sk) or ErrItemNotFound.
	Get(ctx context.Context, pk, sk string) (*Item, error)

	// QueryPrefix returns all items in partition pk whose sort key begins
	// with skPrefix, ordered by sort key ascending.
	QueryPrefix(ctx context.Context, pk, skPrefix string) ([]Item, error)

	// QueryIndex returns all items whose GSI1PK equals gsi1pk and whose
	// GSI1SK begins with gsi1skPrefix, ordered by GSI1SK ascending.
	QueryIndex(ctx context.Context, gsi1pk, gsi1skPrefix string) ([]Item, error)

	// TransactWrite applies ops atomically. A successful put stores the
	// item with Version = previous version + 1 (1 for new items).
	TransactWrite(ctx context.Context, ops ...WriteOp) error
}
