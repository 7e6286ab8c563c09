// Package repository implements typed persistence for events, users and
// registrations on top of the storage contract. It owns the key scheme of the
// single logical table and is the only place domain objects are translated
// to and from stored documents.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"eventdesk/internal/model"
	"eventdesk/internal/storage"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a conditional create finds the record
// already present.
var ErrAlreadyExists = errors.New("already exists")

// ErrVersionConflict is returned when a conditional write loses a race: the
// record changed since it was read. Callers retry the read-decide-write
// sequence.
var ErrVersionConflict = errors.New("version conflict")

// Key scheme, single-table:
//
//	event         PK=EVENT#<id>       SK=METADATA       GSI1PK=EVENT          GSI1SK=<id>
//	user          PK=USER#<id>        SK=METADATA
//	registration  PK=EVENT#<eventID>  SK=REG#<userID>   GSI1PK=USER#<userID>  GSI1SK=REG#<eventID>
//
// Registrations sit in their event's partition so a prefix query yields the
// event roster; the secondary index yields all registrations of one user.
const (
	eventKeyPrefix = "EVENT#"
	userKeyPrefix  = "USER#"
	regKeyPrefix   = "REG#"
	metadataSK     = "METADATA"
	eventIndexPK   = "EVENT"
)

func eventPK(eventID string) string { return eventKeyPrefix + eventID }
func userPK(userID string) string   { return userKeyPrefix + userID }
func regSK(userID string) string    { return regKeyPrefix + userID }

func mapStorageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrItemNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrConditionFailed):
		return ErrVersionConflict
	default:
		return err
	}
}

// ─── Events ──────────────────────────────────────────────────────────────────

// EventRepository handles persistence for events.
type EventRepository struct {
	store storage.Store
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(store storage.Store) *EventRepository {
	return &EventRepository{store: store}
}

func eventItem(ev *model.Event) (storage.Item, error) {
	doc, err := json.Marshal(ev)
	if err != nil {
		return storage.Item{}, fmt.Errorf("marshal event: %w", err)
	}
	return storage.Item{
		PK:     eventPK(ev.ID),
		SK:     metadataSK,
		GSI1PK: eventIndexPK,
		GSI1SK: ev.ID,
		Doc:    doc,
	}, nil
}

func decodeEvent(item *storage.Item) (*model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(item.Doc, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &ev, nil
}

// Create inserts a new event, failing with ErrAlreadyExists if the ID is taken.
func (r *EventRepository) Create(ctx context.Context, ev *model.Event) error {
	item, err := eventItem(ev)
	if err != nil {
		return err
	}
	if err := r.store.TransactWrite(ctx, storage.PutIfAbsent(item)); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Get returns the event and its storage version for conditional writes.
func (r *EventRepository) Get(ctx context.Context, eventID string) (*model.Event, int64, error) {
	item, err := r.store.Get(ctx, eventPK(eventID), metadataSK)
	if err != nil {
		return nil, 0, mapStorageErr(err)
	}
	ev, err := decodeEvent(item)
	if err != nil {
		return nil, 0, err
	}
	return ev, item.Version, nil
}

// Update writes ev only if the stored version still equals version.
func (r *EventRepository) Update(ctx context.Context, ev *model.Event, version int64) error {
	item, err := eventItem(ev)
	if err != nil {
		return err
	}
	if err := r.store.TransactWrite(ctx, storage.PutIfVersion(item, version)); err != nil {
		return mapStorageErr(err)
	}
	return nil
}

// Delete removes the event record. Registrations are left in place; the
// engine tolerates orphans on unregister.
func (r *EventRepository) Delete(ctx context.Context, eventID string) error {
	key := storage.Key{PK: eventPK(eventID), SK: metadataSK}
	if err := r.store.TransactWrite(ctx, storage.DeleteIfExists(key)); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return ErrNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// List returns all events via the secondary index, optionally filtered by
// status, ordered by event ID.
func (r *EventRepository) List(ctx context.Context, status model.EventStatus) ([]model.Event, error) {
	items, err := r.store.QueryIndex(ctx, eventIndexPK, "")
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]model.Event, 0, len(items))
	for i := range items {
		ev, err := decodeEvent(&items[i])
		if err != nil {
			return nil, err
		}
		if status != "" && ev.Status != status {
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

// ─── Users ───────────────────────────────────────────────────────────────────

// UserRepository handles persistence for users.
type UserRepository struct {
	store storage.Store
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(store storage.Store) *UserRepository {
	return &UserRepository{store: store}
}

// Create inserts a new user, failing with ErrAlreadyExists if the ID is taken.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	item := storage.Item{PK: userPK(u.ID), SK: metadataSK, Doc: doc}
	if err := r.store.TransactWrite(ctx, storage.PutIfAbsent(item)); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Get returns a user by ID or ErrNotFound.
func (r *UserRepository) Get(ctx context.Context, userID string) (*model.User, error) {
	item, err := r.store.Get(ctx, userPK(userID), metadataSK)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	var u model.User
	if err := json.Unmarshal(item.Doc, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// Exists reports whether a user record exists.
func (r *UserRepository) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := r.store.Get(ctx, userPK(userID), metadataSK)
	if errors.Is(err, storage.ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

// RegistrationRepository handles persistence for registrations, including the
// multi-record conditional transactions the engine relies on to keep
// Event.RegistrationCount in lockstep with registration records.
type RegistrationRepository struct {
	store storage.Store
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(store storage.Store) *RegistrationRepository {
	return &RegistrationRepository{store: store}
}

func regItem(reg *model.Registration) (storage.Item, error) {
	doc, err := json.Marshal(reg)
	if err != nil {
		return storage.Item{}, fmt.Errorf("marshal registration: %w", err)
	}
	return storage.Item{
		PK:     eventPK(reg.EventID),
		SK:     regSK(reg.UserID),
		GSI1PK: userPK(reg.UserID),
		GSI1SK: regKeyPrefix + reg.EventID,
		Doc:    doc,
	}, nil
}

func decodeRegistration(item *storage.Item) (*model.Registration, error) {
	var reg model.Registration
	if err := json.Unmarshal(item.Doc, &reg); err != nil {
		return nil, fmt.Errorf("unmarshal registration: %w", err)
	}
	return &reg, nil
}

// Get returns the registration for (eventID, userID) and its version.
func (r *RegistrationRepository) Get(ctx context.Context, eventID, userID string) (*model.Registration, int64, error) {
	item, err := r.store.Get(ctx, eventPK(eventID), regSK(userID))
	if err != nil {
		return nil, 0, mapStorageErr(err)
	}
	reg, err := decodeRegistration(item)
	if err != nil {
		return nil, 0, err
	}
	return reg, item.Version, nil
}

// ListByEvent returns registrations for an event, optionally filtered by
// status. Waitlisted results are ordered by position; otherwise by
// registration time, user ID as tiebreak.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string, status model.RegistrationStatus) ([]model.Registration, error) {
	items, err := r.store.QueryPrefix(ctx, eventPK(eventID), regKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	regs := make([]model.Registration, 0, len(items))
	for i := range items {
		reg, err := decodeRegistration(&items[i])
		if err != nil {
			return nil, err
		}
		if status != "" && reg.Status != status {
			continue
		}
		regs = append(regs, *reg)
	}
	if status == model.RegistrationWaitlisted {
		sort.Slice(regs, func(i, j int) bool {
			return waitlistPos(regs[i]) < waitlistPos(regs[j])
		})
	} else {
		sortByTime(regs)
	}
	return regs, nil
}

// Waitlisted returns the event's waitlisted registrations ordered by
// position ascending, i.e. head of queue first.
func (r *RegistrationRepository) Waitlisted(ctx context.Context, eventID string) ([]model.Registration, error) {
	return r.ListByEvent(ctx, eventID, model.RegistrationWaitlisted)
}

// ListByUser returns all registrations of one user via the secondary index,
// ordered by registration time for deterministic output.
func (r *RegistrationRepository) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	items, err := r.store.QueryIndex(ctx, userPK(userID), regKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list user registrations: %w", err)
	}
	regs := make([]model.Registration, 0, len(items))
	for i := range items {
		reg, err := decodeRegistration(&items[i])
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	sortByTime(regs)
	return regs, nil
}

// CreateWithCount atomically creates reg and writes the event record carrying
// the engine's new registration count. The put of reg requires the pair to be
// unregistered; the event write requires the version observed by the caller,
// so any concurrent change to capacity bookkeeping aborts the transaction.
func (r *RegistrationRepository) CreateWithCount(ctx context.Context, reg *model.Registration, ev *model.Event, evVersion int64) error {
	rItem, err := regItem(reg)
	if err != nil {
		return err
	}
	eItem, err := eventItem(ev)
	if err != nil {
		return err
	}
	err = r.store.TransactWrite(ctx,
		storage.PutIfAbsent(rItem),
		storage.PutIfVersion(eItem, evVersion),
	)
	return mapConditionErr(err)
}

// Delete removes a registration conditioned on its version. Used for
// waitlisted removals, which touch no event state.
func (r *RegistrationRepository) Delete(ctx context.Context, eventID, userID string, version int64) error {
	key := storage.Key{PK: eventPK(eventID), SK: regSK(userID)}
	return mapConditionErr(r.store.TransactWrite(ctx, storage.DeleteIfVersion(key, version)))
}

// DeleteWithCount atomically removes a confirmed registration and writes the
// decremented event record.
func (r *RegistrationRepository) DeleteWithCount(ctx context.Context, eventID, userID string, regVersion int64, ev *model.Event, evVersion int64) error {
	eItem, err := eventItem(ev)
	if err != nil {
		return err
	}
	key := storage.Key{PK: eventPK(eventID), SK: regSK(userID)}
	err = r.store.TransactWrite(ctx,
		storage.DeleteIfVersion(key, regVersion),
		storage.PutIfVersion(eItem, evVersion),
	)
	return mapConditionErr(err)
}

// DeleteAndPromote atomically removes a confirmed registration, rewrites the
// promoted registration (now confirmed, position cleared) and writes the
// event record. The promoted write is conditioned on its version so a
// concurrently cancelled waitlist entry cannot be resurrected.
func (r *RegistrationRepository) DeleteAndPromote(ctx context.Context, eventID, userID string, regVersion int64, promoted *model.Registration, promotedVersion int64, ev *model.Event, evVersion int64) error {
	pItem, err := regItem(promoted)
	if err != nil {
		return err
	}
	eItem, err := eventItem(ev)
	if err != nil {
		return err
	}
	key := storage.Key{PK: eventPK(eventID), SK: regSK(userID)}
	err = r.store.TransactWrite(ctx,
		storage.DeleteIfVersion(key, regVersion),
		storage.PutIfVersion(pItem, promotedVersion),
		storage.PutIfVersion(eItem, evVersion),
	)
	return mapConditionErr(err)
}

func mapConditionErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrConditionFailed) {
		return ErrVersionConflict
	}
	return err
}

func waitlistPos(reg model.Registration) int {
	if reg.WaitlistPosition == nil {
		return 0
	}
	return *reg.WaitlistPosition
}

func sortByTime(regs []model.Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			if regs[i].EventID != regs[j].EventID {
				return regs[i].EventID < regs[j].EventID
			}
			return regs[i].UserID < regs[j].UserID
		}
		return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
	})
}
