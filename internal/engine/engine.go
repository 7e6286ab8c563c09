// Package engine implements the registration state machine: capacity checks,
// waitlist admission and promotion, and the bookkeeping that keeps an event's
// registration count equal to its confirmed registrations. It is the sole
// writer of registration records and of Event.RegistrationCount.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventdesk/internal/metrics"
	"eventdesk/internal/model"
	"eventdesk/internal/repository"
)

// ErrAlreadyRegistered is returned when the (event, user) pair already has a
// registration.
var ErrAlreadyRegistered = errors.New("already registered for this event")

// ErrCapacityExceeded is returned when the event is full and has no waitlist.
var ErrCapacityExceeded = errors.New("event is full")

// ErrTooManyRetries is returned when all optimistic-concurrency retry
// attempts are spent. It is a conflict: the caller saw consistent state every
// time, another writer just kept winning.
var ErrTooManyRetries = errors.New("too many concurrent updates, try again")

// ErrInvalidStatus is returned for an unrecognized registration status filter.
var ErrInvalidStatus = errors.New("invalid registration status filter")

// Writes race only on event state, so every state-dependent write is
// conditioned on the event version read at the top of the attempt and the
// whole read-decide-write sequence is retried on conflict.
const maxAttempts = 5

const retryBaseDelay = 10 * time.Millisecond

// Engine coordinates registrations against events and users.
type Engine struct {
	events  *repository.EventRepository
	users   *repository.UserRepository
	regs    *repository.RegistrationRepository
	metrics *metrics.Metrics
}

// New constructs an Engine. metrics may be nil.
func New(events *repository.EventRepository, users *repository.UserRepository, regs *repository.RegistrationRepository, m *metrics.Metrics) *Engine {
	return &Engine{events: events, users: users, regs: regs, metrics: m}
}

// Register attempts to register userID for eventID. The registration comes
// back confirmed while confirmed slots remain, waitlisted when the event is
// full and has a waitlist, and the call fails with ErrCapacityExceeded
// otherwise.
func (e *Engine) Register(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reg, err := e.tryRegister(ctx, eventID, userID)
		if errors.Is(err, repository.ErrVersionConflict) {
			e.metrics.ConflictInc()
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		return reg, err
	}
	return nil, ErrTooManyRetries
}

func (e *Engine) tryRegister(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	ev, evVersion, err := e.events.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("event %q: %w", eventID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load event: %w", err)
	}

	exists, err := e.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("user %q: %w", userID, repository.ErrNotFound)
	}

	if _, _, err := e.regs.Get(ctx, eventID, userID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check registration: %w", err)
	}

	reg := &model.Registration{
		EventID:      eventID,
		UserID:       userID,
		RegisteredAt: time.Now().UTC(),
	}

	switch {
	case !ev.IsFull():
		reg.Status = model.RegistrationConfirmed
		ev.RegistrationCount++

	case ev.WaitlistEnabled:
		waitlisted, err := e.regs.Waitlisted(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("load waitlist: %w", err)
		}
		pos := nextWaitlistPosition(waitlisted)
		reg.Status = model.RegistrationWaitlisted
		reg.WaitlistPosition = &pos
		// Count is unchanged, but the event write still bumps its version
		// to serialize position assignment among concurrent registrants.

	default:
		return nil, ErrCapacityExceeded
	}

	if err := e.regs.CreateWithCount(ctx, reg, ev, evVersion); err != nil {
		return nil, err
	}

	if reg.Status == model.RegistrationConfirmed {
		e.metrics.ConfirmedInc()
	} else {
		e.metrics.WaitlistedInc()
	}
	return reg, nil
}

// Unregister removes the registration for (eventID, userID). Removing a
// confirmed registration frees a slot; when the event has a waitlist the
// entry with the smallest position is promoted into it, leaving the
// confirmed count unchanged. Removing a waitlisted registration never
// touches the other entries' positions.
func (e *Engine) Unregister(ctx context.Context, eventID, userID string) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := e.tryUnregister(ctx, eventID, userID)
		if errors.Is(err, repository.ErrVersionConflict) {
			e.metrics.ConflictInc()
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		return err
	}
	return ErrTooManyRetries
}

func (e *Engine) tryUnregister(ctx context.Context, eventID, userID string) error {
	reg, regVersion, err := e.regs.Get(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("registration for user %q: %w", userID, repository.ErrNotFound)
		}
		return fmt.Errorf("load registration: %w", err)
	}

	if reg.Status == model.RegistrationWaitlisted {
		// Other waitlisted entries keep their positions; no renumbering.
		return e.regs.Delete(ctx, eventID, userID, regVersion)
	}

	ev, evVersion, err := e.events.Get(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		// Event record is gone; drop the orphaned registration.
		return e.regs.Delete(ctx, eventID, userID, regVersion)
	}
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}

	waitlisted, err := e.regs.Waitlisted(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load waitlist: %w", err)
	}

	if len(waitlisted) == 0 {
		if ev.RegistrationCount > 0 {
			ev.RegistrationCount--
		}
		return e.regs.DeleteWithCount(ctx, eventID, userID, regVersion, ev, evVersion)
	}

	// Promote the head of the queue. The freed slot is consumed immediately,
	// so the confirmed count is written back unchanged.
	head := waitlisted[0]
	promoted, promotedVersion, err := e.regs.Get(ctx, eventID, head.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Head cancelled between reads; retry the whole sequence.
			return repository.ErrVersionConflict
		}
		return fmt.Errorf("load promotion candidate: %w", err)
	}
	promoted.Status = model.RegistrationConfirmed
	promoted.WaitlistPosition = nil

	err = e.regs.DeleteAndPromote(ctx, eventID, userID, regVersion, promoted, promotedVersion, ev, evVersion)
	if err != nil {
		return err
	}
	e.metrics.PromotionInc()
	return nil
}

// ListForUser returns every registration of one user, ordered by registration
// time. A user with no registrations yields an empty slice, not an error.
func (e *Engine) ListForUser(ctx context.Context, userID string) ([]model.Registration, error) {
	return e.regs.ListByUser(ctx, userID)
}

// ListForEvent returns the event's roster, optionally restricted to one
// status. Waitlisted results come back in promotion order.
func (e *Engine) ListForEvent(ctx context.Context, eventID string, status model.RegistrationStatus) ([]model.Registration, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if _, _, err := e.events.Get(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("event %q: %w", eventID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load event: %w", err)
	}
	return e.regs.ListByEvent(ctx, eventID, status)
}

func nextWaitlistPosition(waitlisted []model.Registration) int {
	max := 0
	for _, reg := range waitlisted {
		if reg.WaitlistPosition != nil && *reg.WaitlistPosition > max {
			max = *reg.WaitlistPosition
		}
	}
	return max + 1
}

// sleepBackoff waits out the delay for the given attempt, or returns the
// context error so a cancelled caller does not burn further attempts.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << attempt
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
