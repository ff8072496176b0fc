package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/susu3304/tipbot/internal/amount"
)

// Kind tags why value moved.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindRole      Kind = "role"
	KindReactdrop Kind = "reactdrop"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDirect, KindRole, KindReactdrop:
		return true
	}
	return false
}

// Intent is a requested transfer from one source to one or more destinations.
// It only lives while it is validated and executed.
type Intent struct {
	Source       string
	Destinations []string
	Amount       amount.Amount
	Kind         Kind

	// SettlesReactdrop, when non-zero, moves that reactdrop from settling to
	// settled inside the same transaction as the transfer.
	SettlesReactdrop int64
}

// Entry is one immutable ledger row. A transfer to N destinations produces N
// entries sharing the same EventID.
type Entry struct {
	ID          int64         `json:"id"`
	EventID     uuid.UUID     `json:"event_id"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Amount      amount.Amount `json:"amount"`
	Kind        Kind          `json:"kind"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Transfer is the fully computed unit the store applies atomically.
type Transfer struct {
	EventID          uuid.UUID
	Source           string
	Moved            amount.Amount
	Entries          []Entry
	SettlesReactdrop int64
}

// Settlement describes a completed transfer. Requested is what the caller
// asked for; Moved is what actually left the source (Share * len(Destinations)).
type Settlement struct {
	EventID      uuid.UUID
	Source       string
	Destinations []string
	Kind         Kind
	Requested    amount.Amount
	Share        amount.Amount
	Moved        amount.Amount
	Entries      []Entry
	SettledAt    time.Time
}

// Remainder is the part of the request that stayed with the source.
func (s *Settlement) Remainder() amount.Amount {
	return s.Requested - s.Moved
}
