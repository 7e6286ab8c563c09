// Package model defines the core domain types for the event registration system.
package model

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Valid reports whether s is a recognized event status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventPublished, EventActive, EventCompleted, EventCancelled:
		return true
	}
	return false
}

// RegistrationStatus is the admission state of a registration.
type RegistrationStatus string

const (
	RegistrationConfirmed  RegistrationStatus = "confirmed"
	RegistrationWaitlisted RegistrationStatus = "waitlisted"
)

// Valid reports whether s is a recognized registration status.
func (s RegistrationStatus) Valid() bool {
	return s == RegistrationConfirmed || s == RegistrationWaitlisted
}

// Event represents a bookable event created by an organizer.
// RegistrationCount is maintained exclusively by the registration engine and
// always equals the number of confirmed registrations for the event.
type Event struct {
	ID                string      `json:"eventId"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	Date              string      `json:"date"`
	Location          string      `json:"location"`
	Capacity          int         `json:"capacity"`
	Organizer         string      `json:"organizer"`
	Status            EventStatus `json:"status"`
	WaitlistEnabled   bool        `json:"waitlistEnabled"`
	RegistrationCount int         `json:"registrationCount"`
}

// Remaining returns the number of available confirmed slots.
func (e *Event) Remaining() int {
	return e.Capacity - e.RegistrationCount
}

// IsFull returns true when no confirmed slots remain.
func (e *Event) IsFull() bool {
	return e.RegistrationCount >= e.Capacity
}

// User is an attendee. Users are immutable once created.
type User struct {
	ID   string `json:"userId"`
	Name string `json:"name"`
}

// Registration ties a user to an event. WaitlistPosition is set only while
// the registration is waitlisted; positions are unique per event and
// strictly increasing in admission order.
type Registration struct {
	EventID          string             `json:"eventId"`
	UserID           string             `json:"userId"`
	Status           RegistrationStatus `json:"status"`
	RegisteredAt     time.Time          `json:"registeredAt"`
	WaitlistPosition *int               `json:"waitlistPosition,omitempty"`
}

// CreateEventRequest is the payload for creating a new event.
// EventID is optional; a UUID is generated when it is empty.
type CreateEventRequest struct {
	EventID         string      `json:"eventId,omitempty"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Date            string      `json:"date"`
	Location        string      `json:"location"`
	Capacity        int         `json:"capacity"`
	Organizer       string      `json:"organizer"`
	Status          EventStatus `json:"status"`
	WaitlistEnabled bool        `json:"waitlistEnabled"`

	// RegistrationCount is accepted so strict decoding doesn't reject the
	// field, but it is never applied: the counter belongs to the engine.
	RegistrationCount int `json:"registrationCount,omitempty"`
}

// UpdateEventRequest is the payload for a partial event update. Nil fields
// are left unchanged.
type UpdateEventRequest struct {
	Title           *string      `json:"title"`
	Description     *string      `json:"description"`
	Date            *string      `json:"date"`
	Location        *string      `json:"location"`
	Capacity        *int         `json:"capacity"`
	Organizer       *string      `json:"organizer"`
	Status          *EventStatus `json:"status"`
	WaitlistEnabled *bool        `json:"waitlistEnabled"`

	// RegistrationCount is accepted but ignored; see CreateEventRequest.
	RegistrationCount *int `json:"registrationCount"`
}

// Empty reports whether the update carries no fields at all.
func (r UpdateEventRequest) Empty() bool {
	return r.Title == nil && r.Description == nil && r.Date == nil &&
		r.Location == nil && r.Capacity == nil && r.Organizer == nil &&
		r.Status == nil && r.WaitlistEnabled == nil
}

// CreateUserRequest is the payload for creating a new user.
type CreateUserRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// RegisterRequest is the payload for registering a user for an event.
type RegisterRequest struct {
	UserID string `json:"userId"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a standard JSON acknowledgement envelope.
type MessageResponse struct {
	Message string `json:"message"`
}
