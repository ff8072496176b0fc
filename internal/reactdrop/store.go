package reactdrop

import (
	"context"
	"time"

	"github.com/susu3304/tipbot/internal/ledger"
)

// Store persists reactdrops. Every transition is conditional on the current
// status so that concurrent sweepers cannot both act on the same row.
type Store interface {
	// CreateReactdrop persists a pending reactdrop. It fails with
	// ledger.ErrInsufficientFunds when the initiator's balance, less what
	// their open (pending or settling) reactdrops commit, does not cover
	// r.Amount.
	CreateReactdrop(ctx context.Context, r Request) (*Reactdrop, error)
	DueReactdrops(ctx context.Context, now time.Time, limit int) ([]*Reactdrop, error)
	// ClaimReactdrop moves pending -> settling and reports whether this
	// caller won the claim.
	ClaimReactdrop(ctx context.Context, id int64) (bool, error)
	// ExpireReactdrop moves pending -> expired and reports whether this
	// caller performed the transition.
	ExpireReactdrop(ctx context.Context, id int64) (bool, error)
	// FailReactdrop moves settling -> failed, recording reason.
	FailReactdrop(ctx context.Context, id int64, reason string) error
	StuckReactdrops(ctx context.Context, settlingBefore time.Time) ([]*Reactdrop, error)
}

// Transferer executes the payout.
type Transferer interface {
	ExecuteTransfer(ctx context.Context, intent ledger.Intent) (*ledger.Settlement, error)
}

// ParticipantCollector lists the users who reacted with trigger to a message.
type ParticipantCollector interface {
	CollectReactionParticipants(ctx context.Context, channelID, messageID, trigger string) ([]string, error)
}

// Notifier fans out post-settlement notices without blocking the sweep.
type Notifier interface {
	DispatchAsync(s *ledger.Settlement, channelID string)
}

// Announcer posts public channel notices about expired or failed drops.
type Announcer interface {
	SendChannelMessage(ctx context.Context, channelID, content string, ping []string) error
}

// Locker runs fn while holding a distributed lock on key. It returns
// ErrLockHeld, without running fn, when another holder has it.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}
