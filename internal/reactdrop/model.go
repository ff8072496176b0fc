package reactdrop

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/susu3304/tipbot/internal/amount"
)

var (
	ErrInvalidTrigger  = errors.New("invalid reactdrop trigger")
	ErrInvalidDeadline = errors.New("reactdrop deadline must be in the future")
	ErrStatusInvalid   = errors.New("invalid reactdrop status")
)

// Status is a reactdrop's position in its lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSettling Status = "settling"
	StatusSettled  Status = "settled"
	StatusExpired  Status = "expired"
	StatusFailed   Status = "failed"
)

// ParseStatus validates a raw status read from storage.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusSettling, StatusSettled, StatusExpired, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusExpired || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is allowed. Settling never goes
// back to pending.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSettling || next == StatusExpired
	case StatusSettling:
		return next == StatusSettled || next == StatusFailed
	default:
		return false
	}
}

// Reactdrop is a giveaway whose amount is split among everyone who reacted
// with Trigger to the announcement message once Deadline passes. It carries
// everything needed to settle it, so it never depends on a live interaction.
type Reactdrop struct {
	ID          int64         `json:"id"`
	InitiatorID string        `json:"initiator_id"`
	Trigger     string        `json:"trigger"`
	Amount      amount.Amount `json:"amount"`
	GuildID     string        `json:"guild_id"`
	ChannelID   string        `json:"channel_id"`
	MessageID   string        `json:"message_id"`
	Deadline    time.Time     `json:"deadline"`
	Status      Status        `json:"status"`
	EventID     *uuid.UUID    `json:"event_id,omitempty"`
	Failure     string        `json:"failure,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Request is the data captured from the creating command.
type Request struct {
	InitiatorID string
	Trigger     string
	Amount      amount.Amount
	GuildID     string
	ChannelID   string
	MessageID   string
	Deadline    time.Time
}

// Outcome is what a single settlement attempt did.
type Outcome string

const (
	OutcomeSettled  Outcome = "settled"
	OutcomeExpired  Outcome = "expired"
	OutcomeFailed   Outcome = "failed"
	OutcomeLost     Outcome = "lost"
	OutcomeDeferred Outcome = "deferred"
)
