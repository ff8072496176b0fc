// Package ledger holds the transfer engine: it validates a transfer intent,
// splits the amount deterministically and applies the result through a Store
// as one atomic unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/amount"
)

// Store is the balance store and transaction ledger the engine writes to.
//
// ApplyTransfer must be atomic: either the debit, every credit and every entry
// is persisted, or nothing is. It returns ErrInsufficientFunds when the
// source's balance, less what its open reactdrops other than
// t.SettlesReactdrop have committed, cannot cover t.Moved, and
// ErrAlreadySettled when t.SettlesReactdrop is no longer settling.
type Store interface {
	ApplyTransfer(ctx context.Context, t Transfer) error
}

type Engine struct {
	store  Store
	min    amount.Amount
	logger *zap.Logger
	now    func() time.Time
	newID  func() uuid.UUID
}

type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine returns an engine rejecting intents below minTip. minTip must be
// at least one satoshi.
func NewEngine(store Store, minTip amount.Amount, opts ...Option) *Engine {
	if minTip < 1 {
		minTip = 1
	}
	e := &Engine{
		store:  store,
		min:    minTip,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinTip is the configured minimum. Accepted amounts are strictly above it.
func (e *Engine) MinTip() amount.Amount { return e.min }

// Validate checks an intent without touching the store and returns the
// per-destination share and the total that would move.
func (e *Engine) Validate(intent Intent) (share, moved amount.Amount, err error) {
	if !intent.Kind.Valid() {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKind, intent.Kind)
	}
	if intent.Source == "" {
		return 0, 0, fmt.Errorf("%w: missing source", ErrInvalidSplit)
	}
	if len(intent.Destinations) == 0 {
		return 0, 0, fmt.Errorf("%w: no destinations", ErrInvalidSplit)
	}
	seen := make(map[string]struct{}, len(intent.Destinations))
	for _, d := range intent.Destinations {
		if d == "" {
			return 0, 0, fmt.Errorf("%w: empty destination", ErrInvalidSplit)
		}
		if _, dup := seen[d]; dup {
			return 0, 0, fmt.Errorf("%w: duplicate destination %s", ErrInvalidSplit, d)
		}
		seen[d] = struct{}{}
	}
	if intent.Amount <= e.min {
		return 0, 0, fmt.Errorf("%w: %s <= %s", ErrBelowMinimum, intent.Amount, e.min)
	}

	share, moved, err = intent.Amount.Split(len(intent.Destinations))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidSplit, err)
	}
	if share.IsZero() {
		return 0, 0, fmt.Errorf("%w: %s across %d recipients is less than one unit each",
			ErrBelowMinimum, intent.Amount, len(intent.Destinations))
	}
	return share, moved, nil
}

// ExecuteTransfer validates the intent and applies it atomically. Only
// share*n leaves the source; the remainder of an uneven split stays put.
//
// The engine does not deduplicate: each logical intent must be submitted at
// most once by its caller.
func (e *Engine) ExecuteTransfer(ctx context.Context, intent Intent) (*Settlement, error) {
	timer := prometheus.NewTimer(transferDuration.WithLabelValues(string(intent.Kind)))
	defer timer.ObserveDuration()

	settlement, err := e.execute(ctx, intent)
	transfersTotal.WithLabelValues(string(intent.Kind), outcomeLabel(err)).Inc()
	return settlement, err
}

func (e *Engine) execute(ctx context.Context, intent Intent) (*Settlement, error) {
	share, moved, err := e.Validate(intent)
	if err != nil {
		return nil, err
	}

	eventID := e.newID()
	now := e.now().UTC()
	entries := make([]Entry, 0, len(intent.Destinations))
	for _, dest := range intent.Destinations {
		entries = append(entries, Entry{
			EventID:     eventID,
			Source:      intent.Source,
			Destination: dest,
			Amount:      share,
			Kind:        intent.Kind,
			CreatedAt:   now,
		})
	}

	err = e.store.ApplyTransfer(ctx, Transfer{
		EventID:          eventID,
		Source:           intent.Source,
		Moved:            moved,
		Entries:          entries,
		SettlesReactdrop: intent.SettlesReactdrop,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrAlreadySettled) {
			return nil, err
		}
		e.logger.Error("transfer failed",
			zap.String("event_id", eventID.String()),
			zap.String("user_id", intent.Source),
			zap.String("kind", string(intent.Kind)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	e.logger.Debug("transfer settled",
		zap.String("event_id", eventID.String()),
		zap.String("user_id", intent.Source),
		zap.String("kind", string(intent.Kind)),
		zap.Int("recipients", len(entries)),
		zap.Int64("moved", moved.Sats()))

	return &Settlement{
		EventID:      eventID,
		Source:       intent.Source,
		Destinations: append([]string(nil), intent.Destinations...),
		Kind:         intent.Kind,
		Requested:    intent.Amount,
		Share:        share,
		Moved:        moved,
		Entries:      entries,
		SettledAt:    now,
	}, nil
}
