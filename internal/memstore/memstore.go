// Package memstore is an in-memory implementation of the ledger, reactdrop
// and preference stores. It honors the same atomicity contract as the
// Postgres store by doing every operation under one mutex, and is meant for
// tests and local experiments.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/notify"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

type Store struct {
	mu          sync.Mutex
	balances    map[string]amount.Amount
	prefs       map[string]notify.Preference
	blacklist   map[string]bool
	entries     []ledger.Entry
	drops       map[int64]*reactdrop.Reactdrop
	nextEntryID int64
	nextDropID  int64
	now         func() time.Time

	// ApplyErr, when set, makes ApplyTransfer fail without side effects.
	ApplyErr error
}

func New() *Store {
	return &Store{
		balances:  make(map[string]amount.Amount),
		prefs:     make(map[string]notify.Preference),
		blacklist: make(map[string]bool),
		drops:     make(map[int64]*reactdrop.Reactdrop),
		now:       time.Now,
	}
}

// SetClock overrides the time stamped on rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) SetBalance(userID string, a amount.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = a
}

func (s *Store) Blacklist(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[userID] = true
}

func (s *Store) Balance(_ context.Context, userID string) (amount.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *Store) Available(_ context.Context, userID string) (amount.Amount, amount.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], s.committedLocked(userID, 0), nil
}

// committedLocked sums userID's pending and settling reactdrops except exclude.
func (s *Store) committedLocked(userID string, exclude int64) amount.Amount {
	var sum amount.Amount
	for _, r := range s.drops {
		if r.InitiatorID != userID || r.ID == exclude {
			continue
		}
		if r.Status == reactdrop.StatusPending || r.Status == reactdrop.StatusSettling {
			sum += r.Amount
		}
	}
	return sum
}

func (s *Store) ApplyTransfer(_ context.Context, t ledger.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ApplyErr != nil {
		return s.ApplyErr
	}
	if s.balances[t.Source]-s.committedLocked(t.Source, t.SettlesReactdrop) < t.Moved {
		return ledger.ErrInsufficientFunds
	}

	var drop *reactdrop.Reactdrop
	if t.SettlesReactdrop != 0 {
		drop = s.drops[t.SettlesReactdrop]
		if drop == nil || drop.Status != reactdrop.StatusSettling {
			return ledger.ErrAlreadySettled
		}
	}

	s.balances[t.Source] -= t.Moved
	for _, e := range t.Entries {
		s.balances[e.Destination] += e.Amount
		s.nextEntryID++
		e.ID = s.nextEntryID
		s.entries = append(s.entries, e)
	}
	if drop != nil {
		eventID := t.EventID
		drop.Status = reactdrop.StatusSettled
		drop.EventID = &eventID
		drop.UpdatedAt = s.now()
	}
	return nil
}

// Entries returns the newest entries involving userID first.
func (s *Store) Entries(_ context.Context, userID string, limit int) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Source != userID && e.Destination != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// EntriesByEvent returns every entry written for eventID.
func (s *Store) EntriesByEvent(eventID uuid.UUID) []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) SetNotificationPreference(_ context.Context, userID string, p notify.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = p
	return nil
}

func (s *Store) NotificationPreference(_ context.Context, userID string) (notify.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs[userID], nil
}

func (s *Store) NotificationPreferences(_ context.Context, userIDs []string) (map[string]notify.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]notify.Preference, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.prefs[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) IsBlacklisted(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist[userID], nil
}

func (s *Store) CreateReactdrop(_ context.Context, req reactdrop.Request) (*reactdrop.Reactdrop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[req.InitiatorID]-s.committedLocked(req.InitiatorID, 0) < req.Amount {
		return nil, ledger.ErrInsufficientFunds
	}
	s.nextDropID++
	now := s.now()
	r := &reactdrop.Reactdrop{
		ID:          s.nextDropID,
		InitiatorID: req.InitiatorID,
		Trigger:     req.Trigger,
		Amount:      req.Amount,
		GuildID:     req.GuildID,
		ChannelID:   req.ChannelID,
		MessageID:   req.MessageID,
		Deadline:    req.Deadline,
		Status:      reactdrop.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.drops[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *Store) DueReactdrops(_ context.Context, now time.Time, limit int) ([]*reactdrop.Reactdrop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(limit, func(r *reactdrop.Reactdrop) bool {
		return r.Status == reactdrop.StatusPending && !r.Deadline.After(now)
	}), nil
}

func (s *Store) StuckReactdrops(_ context.Context, settlingBefore time.Time) ([]*reactdrop.Reactdrop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(0, func(r *reactdrop.Reactdrop) bool {
		return r.Status == reactdrop.StatusSettling && r.UpdatedAt.Before(settlingBefore)
	}), nil
}

func (s *Store) ReactdropsByInitiator(_ context.Context, userID string, limit int) ([]*reactdrop.Reactdrop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(limit, func(r *reactdrop.Reactdrop) bool {
		return r.InitiatorID == userID
	}), nil
}

// Reactdrop returns a copy of one reactdrop, or nil.
func (s *Store) Reactdrop(id int64) *reactdrop.Reactdrop {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.drops[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (s *Store) selectLocked(limit int, match func(*reactdrop.Reactdrop) bool) []*reactdrop.Reactdrop {
	var out []*reactdrop.Reactdrop
	for _, r := range s.drops {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) transition(id int64, from, to reactdrop.Status, failure string) bool {
	r, ok := s.drops[id]
	if !ok || r.Status != from || !from.CanTransitionTo(to) {
		return false
	}
	r.Status = to
	r.Failure = failure
	r.UpdatedAt = s.now()
	return true
}

func (s *Store) ClaimReactdrop(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, reactdrop.StatusPending, reactdrop.StatusSettling, ""), nil
}

func (s *Store) ExpireReactdrop(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, reactdrop.StatusPending, reactdrop.StatusExpired, ""), nil
}

func (s *Store) FailReactdrop(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(id, reactdrop.StatusSettling, reactdrop.StatusFailed, reason)
	return nil
}
