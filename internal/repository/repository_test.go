package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"eventdesk/internal/model"
	"eventdesk/internal/storage/memory"
)

type RepositorySuite struct {
	suite.Suite
	events *EventRepository
	users  *UserRepository
	regs   *RegistrationRepository
	ctx    context.Context
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	store := memory.New()
	s.events = NewEventRepository(store)
	s.users = NewUserRepository(store)
	s.regs = NewRegistrationRepository(store)
	s.ctx = context.Background()
}

func (s *RepositorySuite) newEvent(id string, capacity int) *model.Event {
	return &model.Event{
		ID:        id,
		Title:     "Summit",
		Date:      "2026-10-01",
		Location:  "Lisbon",
		Capacity:  capacity,
		Organizer: "ops",
		Status:    model.EventPublished,
	}
}

func (s *RepositorySuite) newRegistration(eventID, userID string, at time.Time) *model.Registration {
	return &model.Registration{
		EventID:      eventID,
		UserID:       userID,
		Status:       model.RegistrationConfirmed,
		RegisteredAt: at,
	}
}

func (s *RepositorySuite) TestEventRoundTrip() {
	ev := s.newEvent("e1", 10)
	s.Require().NoError(s.events.Create(s.ctx, ev))

	got, version, err := s.events.Get(s.ctx, "e1")
	s.Require().NoError(err)
	s.Equal(int64(1), version)
	s.Equal(ev, got)

	s.Run("duplicate create returns ErrAlreadyExists", func() {
		s.Require().ErrorIs(s.events.Create(s.ctx, ev), ErrAlreadyExists)
	})

	s.Run("stale update returns ErrVersionConflict", func() {
		got.Title = "Renamed"
		s.Require().NoError(s.events.Update(s.ctx, got, 1))
		s.Require().ErrorIs(s.events.Update(s.ctx, got, 1), ErrVersionConflict)
	})

	s.Run("delete then get returns ErrNotFound", func() {
		s.Require().NoError(s.events.Delete(s.ctx, "e1"))
		_, _, err := s.events.Get(s.ctx, "e1")
		s.Require().ErrorIs(err, ErrNotFound)
		s.Require().ErrorIs(s.events.Delete(s.ctx, "e1"), ErrNotFound)
	})
}

func (s *RepositorySuite) TestEventList() {
	a := s.newEvent("a", 5)
	b := s.newEvent("b", 5)
	b.Status = model.EventDraft
	s.Require().NoError(s.events.Create(s.ctx, b))
	s.Require().NoError(s.events.Create(s.ctx, a))

	all, err := s.events.List(s.ctx, "")
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("a", all[0].ID)
	s.Equal("b", all[1].ID)

	drafts, err := s.events.List(s.ctx, model.EventDraft)
	s.Require().NoError(err)
	s.Require().Len(drafts, 1)
	s.Equal("b", drafts[0].ID)
}

func (s *RepositorySuite) TestUsers() {
	u := &model.User{ID: "u1", Name: "Ada"}
	s.Require().NoError(s.users.Create(s.ctx, u))

	got, err := s.users.Get(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(u, got)

	s.Require().ErrorIs(s.users.Create(s.ctx, u), ErrAlreadyExists)

	_, err = s.users.Get(s.ctx, "nope")
	s.Require().ErrorIs(err, ErrNotFound)

	exists, err := s.users.Exists(s.ctx, "u1")
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.users.Exists(s.ctx, "nope")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *RepositorySuite) TestRegistrationTransactions() {
	ev := s.newEvent("e1", 2)
	s.Require().NoError(s.events.Create(s.ctx, ev))

	now := time.Now().UTC()
	reg := s.newRegistration("e1", "u1", now)
	ev.RegistrationCount = 1
	s.Require().NoError(s.regs.CreateWithCount(s.ctx, reg, ev, 1))

	s.Run("registration and count land together", func() {
		got, version, err := s.regs.Get(s.ctx, "e1", "u1")
		s.Require().NoError(err)
		s.Equal(int64(1), version)
		s.Equal(model.RegistrationConfirmed, got.Status)

		gotEv, evVersion, err := s.events.Get(s.ctx, "e1")
		s.Require().NoError(err)
		s.Equal(int64(2), evVersion)
		s.Equal(1, gotEv.RegistrationCount)
	})

	s.Run("stale event version aborts the whole transaction", func() {
		other := s.newRegistration("e1", "u2", now)
		err := s.regs.CreateWithCount(s.ctx, other, ev, 1)
		s.Require().ErrorIs(err, ErrVersionConflict)

		_, _, err = s.regs.Get(s.ctx, "e1", "u2")
		s.Require().ErrorIs(err, ErrNotFound)
	})

	s.Run("duplicate registration aborts even with a fresh event version", func() {
		err := s.regs.CreateWithCount(s.ctx, reg, ev, 2)
		s.Require().ErrorIs(err, ErrVersionConflict)
	})

	s.Run("conditional delete requires the observed version", func() {
		s.Require().ErrorIs(s.regs.Delete(s.ctx, "e1", "u1", 9), ErrVersionConflict)
		s.Require().NoError(s.regs.Delete(s.ctx, "e1", "u1", 1))
		_, _, err := s.regs.Get(s.ctx, "e1", "u1")
		s.Require().ErrorIs(err, ErrNotFound)
	})
}

func (s *RepositorySuite) TestRegistrationQueries() {
	ev := s.newEvent("e1", 1)
	s.Require().NoError(s.events.Create(s.ctx, ev))

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	pos := func(p int) *int { return &p }

	confirmed := s.newRegistration("e1", "u1", base)
	s.Require().NoError(s.regs.CreateWithCount(s.ctx, confirmed, ev, 1))

	w2 := s.newRegistration("e1", "u2", base.Add(time.Minute))
	w2.Status = model.RegistrationWaitlisted
	w2.WaitlistPosition = pos(2)
	s.Require().NoError(s.regs.CreateWithCount(s.ctx, w2, ev, 2))

	w1 := s.newRegistration("e1", "u3", base.Add(2*time.Minute))
	w1.Status = model.RegistrationWaitlisted
	w1.WaitlistPosition = pos(1)
	s.Require().NoError(s.regs.CreateWithCount(s.ctx, w1, ev, 3))

	s.Run("waitlisted ordered by position not arrival", func() {
		waitlisted, err := s.regs.Waitlisted(s.ctx, "e1")
		s.Require().NoError(err)
		s.Require().Len(waitlisted, 2)
		s.Equal("u3", waitlisted[0].UserID)
		s.Equal("u2", waitlisted[1].UserID)
	})

	s.Run("event roster carries every status", func() {
		regs, err := s.regs.ListByEvent(s.ctx, "e1", "")
		s.Require().NoError(err)
		s.Require().Len(regs, 3)
		s.Equal("u1", regs[0].UserID) // ordered by registration time
	})

	s.Run("status filter restricts results", func() {
		regs, err := s.regs.ListByEvent(s.ctx, "e1", model.RegistrationConfirmed)
		s.Require().NoError(err)
		s.Require().Len(regs, 1)
		s.Equal("u1", regs[0].UserID)
	})

	s.Run("user view reaches across events", func() {
		ev2 := s.newEvent("e2", 1)
		s.Require().NoError(s.events.Create(s.ctx, ev2))
		later := s.newRegistration("e2", "u1", base.Add(time.Hour))
		s.Require().NoError(s.regs.CreateWithCount(s.ctx, later, ev2, 1))

		regs, err := s.regs.ListByUser(s.ctx, "u1")
		s.Require().NoError(err)
		s.Require().Len(regs, 2)
		s.Equal("e1", regs[0].EventID)
		s.Equal("e2", regs[1].EventID)
	})

	s.Run("unknown user yields empty slice", func() {
		regs, err := s.regs.ListByUser(s.ctx, "ghost")
		s.Require().NoError(err)
		s.Empty(regs)
	})
}
