// Package service implements CRUD orchestration and input validation for
// events and users. Registration logic lives in the engine package; the
// services here never touch registration records and never let a client
// write Event.RegistrationCount.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventdesk/internal/model"
	"eventdesk/internal/repository"

	"github.com/google/uuid"
)

// ErrValidation is returned for malformed input. Wrapped errors carry the
// field-level detail.
var ErrValidation = errors.New("invalid input")

const (
	maxIDLen          = 100
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxLocationLen    = 500
	maxOrganizerLen   = 200
	maxCapacity       = 100_000
	dateLayout        = "2006-01-02"
)

// Event updates race with the engine's count writes, so they go through the
// same read-modify-conditional-write loop with the same backoff.
const (
	maxUpdateAttempts    = 5
	updateRetryBaseDelay = 10 * time.Millisecond
)

// EventService orchestrates event CRUD.
type EventService struct {
	events *repository.EventRepository
}

// NewEventService constructs an EventService.
func NewEventService(events *repository.EventRepository) *EventService {
	return &EventService{events: events}
}

// Create validates the request and inserts a new event with a zeroed
// registration count. When no event ID is supplied a UUID is generated.
func (s *EventService) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	ev := &model.Event{
		ID:                strings.TrimSpace(req.EventID),
		Title:             strings.TrimSpace(req.Title),
		Description:       req.Description,
		Date:              req.Date,
		Location:          strings.TrimSpace(req.Location),
		Capacity:          req.Capacity,
		Organizer:         strings.TrimSpace(req.Organizer),
		Status:            req.Status,
		WaitlistEnabled:   req.WaitlistEnabled,
		RegistrationCount: 0,
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	} else if len(ev.ID) > maxIDLen {
		return nil, fmt.Errorf("%w: eventId exceeds %d characters", ErrValidation, maxIDLen)
	}
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("event %q: %w", ev.ID, repository.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

// Get returns a single event by ID.
func (s *EventService) Get(ctx context.Context, eventID string) (*model.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrValidation)
	}
	ev, _, err := s.events.Get(ctx, eventID)
	return ev, err
}

// List returns all events, optionally filtered by status.
func (s *EventService) List(ctx context.Context, status model.EventStatus) ([]model.Event, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown event status %q", ErrValidation, status)
	}
	return s.events.List(ctx, status)
}

// Update applies a partial update. The registration count is carried over
// from the stored record untouched; it is the engine's field. The write is
// conditional on the version read here and retried on conflict, so an update
// never clobbers a concurrent registration's count bookkeeping.
func (s *EventService) Update(ctx context.Context, eventID string, req model.UpdateEventRequest) (*model.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if req.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		ev, version, err := s.events.Get(ctx, eventID)
		if err != nil {
			return nil, err
		}
		applyUpdate(ev, req)
		if err := validateEvent(ev); err != nil {
			return nil, err
		}

		err = s.events.Update(ctx, ev, version)
		if errors.Is(err, repository.ErrVersionConflict) {
			lastErr = err
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update event: %w", err)
		}
		return ev, nil
	}
	return nil, lastErr
}

// Delete removes the event record.
func (s *EventService) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", ErrValidation)
	}
	return s.events.Delete(ctx, eventID)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(updateRetryBaseDelay << attempt):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func applyUpdate(ev *model.Event, req model.UpdateEventRequest) {
	if req.Title != nil {
		ev.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		ev.Description = *req.Description
	}
	if req.Date != nil {
		ev.Date = *req.Date
	}
	if req.Location != nil {
		ev.Location = strings.TrimSpace(*req.Location)
	}
	if req.Capacity != nil {
		ev.Capacity = *req.Capacity
	}
	if req.Organizer != nil {
		ev.Organizer = strings.TrimSpace(*req.Organizer)
	}
	if req.Status != nil {
		ev.Status = *req.Status
	}
	if req.WaitlistEnabled != nil {
		ev.WaitlistEnabled = *req.WaitlistEnabled
	}
}

func validateEvent(ev *model.Event) error {
	switch {
	case ev.Title == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case len(ev.Title) > maxTitleLen:
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxTitleLen)
	case len(ev.Description) > maxDescriptionLen:
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, maxDescriptionLen)
	case ev.Location == "":
		return fmt.Errorf("%w: location is required", ErrValidation)
	case len(ev.Location) > maxLocationLen:
		return fmt.Errorf("%w: location exceeds %d characters", ErrValidation, maxLocationLen)
	case ev.Organizer == "":
		return fmt.Errorf("%w: organizer is required", ErrValidation)
	case len(ev.Organizer) > maxOrganizerLen:
		return fmt.Errorf("%w: organizer exceeds %d characters", ErrValidation, maxOrganizerLen)
	case ev.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be a positive integer", ErrValidation)
	case ev.Capacity > maxCapacity:
		return fmt.Errorf("%w: capacity cannot exceed %d", ErrValidation, maxCapacity)
	case !ev.Status.Valid():
		return fmt.Errorf("%w: unknown event status %q", ErrValidation, ev.Status)
	}
	if _, err := time.Parse(dateLayout, ev.Date); err != nil {
		return fmt.Errorf("%w: date must be formatted as %s", ErrValidation, dateLayout)
	}
	return nil
}

// UserService orchestrates user creation and lookup. Users are immutable
// once created.
type UserService struct {
	users *repository.UserRepository
}

// NewUserService constructs a UserService.
func NewUserService(users *repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// Create validates and inserts a new user.
func (s *UserService) Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	u := &model.User{
		ID:   strings.TrimSpace(req.UserID),
		Name: strings.TrimSpace(req.Name),
	}
	switch {
	case u.ID == "":
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	case len(u.ID) > maxIDLen:
		return nil, fmt.Errorf("%w: userId exceeds %d characters", ErrValidation, maxIDLen)
	case u.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	case len(u.Name) > maxTitleLen:
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxTitleLen)
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("user %q: %w", u.ID, repository.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return s.users.Get(ctx, userID)
}
