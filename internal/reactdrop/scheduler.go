// Package reactdrop owns reactdrops from creation to a terminal status. A
// reactdrop is persisted with everything needed to settle it, and a
// background sweep settles it once its deadline passes, independently of the
// interaction that created it.
package reactdrop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
)

const sweepLockKey = "tipbot:lock:reactdrop-sweep"

var ErrMissingReference = errors.New("reactdrop message reference missing")

type Config struct {
	Interval   time.Duration
	Batch      int
	StuckAfter time.Duration
	MinTip     amount.Amount
	Ticker     string
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 50
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 10 * time.Minute
	}
	if c.MinTip < 1 {
		c.MinTip = 1
	}
}

// Scheduler creates reactdrops and periodically settles the due ones.
type Scheduler struct {
	store     Store
	engine    Transferer
	collector ParticipantCollector
	notifier  Notifier
	announcer Announcer
	locker    Locker
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	ticker   *time.Ticker
}

type Option func(*Scheduler)

func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

func WithAnnouncer(a Announcer) Option { return func(s *Scheduler) { s.announcer = a } }

// WithLocker serializes sweeps across processes. Settlement stays correct
// without it; the lock only avoids redundant work.
func WithLocker(l Locker) Option { return func(s *Scheduler) { s.locker = l } }

func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(store Store, engine Transferer, collector ParticipantCollector, cfg Config, opts ...Option) *Scheduler {
	cfg.normalize()
	s := &Scheduler{
		store:     store,
		engine:    engine,
		collector: collector,
		logger:    zap.NewNop(),
		cfg:       cfg,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and persists a reactdrop. Funds are checked against the
// initiator's uncommitted balance but not moved until settlement.
func (s *Scheduler) Create(ctx context.Context, req Request) (*Reactdrop, error) {
	if strings.TrimSpace(req.Trigger) == "" {
		return nil, ErrInvalidTrigger
	}
	if req.ChannelID == "" || req.MessageID == "" {
		return nil, ErrMissingReference
	}
	if req.Amount <= s.cfg.MinTip {
		return nil, fmt.Errorf("%w: %s <= %s", ledger.ErrBelowMinimum, req.Amount, s.cfg.MinTip)
	}
	if !req.Deadline.After(s.now()) {
		return nil, ErrInvalidDeadline
	}

	r, err := s.store.CreateReactdrop(ctx, req)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create reactdrop: %w", ledger.ErrPersistence, err)
	}

	s.logger.Info("reactdrop created",
		zap.Int64("reactdrop_id", r.ID),
		zap.String("user_id", r.InitiatorID),
		zap.Int64("amount", r.Amount.Sats()),
		zap.Time("deadline", r.Deadline))
	return r, nil
}

// Start runs a sweep immediately, picking up anything left over from a
// previous process, and then once per interval until Stop.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.ticker = time.NewTicker(s.cfg.Interval)
	go s.loop()
}

// Stop ends the loop and waits for an in-flight sweep to finish. A settlement
// that has begun is never interrupted.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.ticker != nil {
			s.ticker.Stop()
			<-s.done
		}
	})
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ctx := context.Background()

	s.tick(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.tick(ctx)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("reactdrop sweep failed", zap.Error(err))
		return
	}
	if res.Total() > 0 {
		s.logger.Info("reactdrop sweep finished",
			zap.Int("settled", res.Settled),
			zap.Int("expired", res.Expired),
			zap.Int("failed", res.Failed),
			zap.Int("lost", res.Lost),
			zap.Int("deferred", res.Deferred))
	}
}

// SweepResult counts the outcomes of one sweep.
type SweepResult struct {
	Settled  int
	Expired  int
	Failed   int
	Lost     int
	Deferred int
}

func (r *SweepResult) add(o Outcome) {
	switch o {
	case OutcomeSettled:
		r.Settled++
	case OutcomeExpired:
		r.Expired++
	case OutcomeFailed:
		r.Failed++
	case OutcomeLost:
		r.Lost++
	case OutcomeDeferred:
		r.Deferred++
	}
}

func (r SweepResult) Total() int {
	return r.Settled + r.Expired + r.Failed + r.Lost + r.Deferred
}

// Sweep settles every due pending reactdrop, up to the batch size. It is safe
// to call concurrently from several goroutines or processes.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	run := func(ctx context.Context) error {
		var err error
		res, err = s.sweep(ctx)
		return err
	}
	if s.locker == nil {
		err := run(ctx)
		return res, err
	}

	err := s.locker.WithLock(ctx, sweepLockKey, run)
	if errors.Is(err, ErrLockHeld) {
		s.logger.Debug("reactdrop sweep skipped, lock held elsewhere")
		return res, nil
	}
	return res, err
}

func (s *Scheduler) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	drops, err := s.store.DueReactdrops(ctx, now, s.cfg.Batch)
	if err != nil {
		return res, fmt.Errorf("load due reactdrops: %w", err)
	}

	for _, r := range drops {
		outcome, err := s.Settle(ctx, r)
		res.add(outcome)
		reactdropsTotal.WithLabelValues(string(outcome)).Inc()
		if err != nil {
			s.logger.Error("reactdrop settlement error",
				zap.Int64("reactdrop_id", r.ID),
				zap.String("outcome", string(outcome)),
				zap.Error(err))
		}
	}

	s.reportStuck(ctx, now)
	return res, nil
}

// Settle drives one due reactdrop to a terminal status. A reactdrop pays out
// at most once: the pending -> settling claim is conditional, and the
// settling -> settled transition commits with the transfer itself.
func (s *Scheduler) Settle(ctx context.Context, r *Reactdrop) (Outcome, error) {
	log := s.logger.With(zap.Int64("reactdrop_id", r.ID), zap.String("user_id", r.InitiatorID))

	// Participants are resolved before claiming, so a messaging outage
	// leaves the reactdrop pending for the next sweep instead of failing it.
	raw, err := s.collector.CollectReactionParticipants(ctx, r.ChannelID, r.MessageID, r.Trigger)
	if err != nil {
		log.Warn("collect reactdrop participants", zap.Error(err))
		return OutcomeDeferred, nil
	}
	participants := eligible(raw, r.InitiatorID)

	if len(participants) == 0 {
		ok, err := s.store.ExpireReactdrop(ctx, r.ID)
		if err != nil {
			return OutcomeDeferred, fmt.Errorf("expire reactdrop: %w", err)
		}
		if !ok {
			log.Debug("reactdrop handled by another sweeper")
			return OutcomeLost, nil
		}
		log.Info("reactdrop expired without participants")
		s.announce(ctx, r.ChannelID, fmt.Sprintf(
			"The reactdrop of %s by <@%s> ended without participants. Nothing was sent.",
			r.Amount.Format(s.cfg.Ticker), r.InitiatorID))
		return OutcomeExpired, nil
	}

	ok, err := s.store.ClaimReactdrop(ctx, r.ID)
	if err != nil {
		return OutcomeDeferred, fmt.Errorf("claim reactdrop: %w", err)
	}
	if !ok {
		log.Debug("reactdrop claimed by another sweeper")
		return OutcomeLost, nil
	}

	settlement, err := s.engine.ExecuteTransfer(ctx, ledger.Intent{
		Source:           r.InitiatorID,
		Destinations:     participants,
		Amount:           r.Amount,
		Kind:             ledger.KindReactdrop,
		SettlesReactdrop: r.ID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadySettled) {
			log.Debug("reactdrop settled concurrently")
			return OutcomeLost, nil
		}
		s.fail(ctx, r, err)
		return OutcomeFailed, err
	}

	log.Info("reactdrop settled",
		zap.String("event_id", settlement.EventID.String()),
		zap.Int("participants", len(participants)),
		zap.Int64("moved", settlement.Moved.Sats()))
	if s.notifier != nil {
		s.notifier.DispatchAsync(settlement, r.ChannelID)
	}
	return OutcomeSettled, nil
}

// fail is terminal: a settling reactdrop never returns to pending, so an
// operator has to look at it.
func (s *Scheduler) fail(ctx context.Context, r *Reactdrop, cause error) {
	s.logger.Error("reactdrop settlement failed, operator attention required",
		zap.Int64("reactdrop_id", r.ID),
		zap.String("user_id", r.InitiatorID),
		zap.Int64("amount", r.Amount.Sats()),
		zap.Error(cause))

	if err := s.store.FailReactdrop(ctx, r.ID, cause.Error()); err != nil {
		s.logger.Error("record reactdrop failure",
			zap.Int64("reactdrop_id", r.ID),
			zap.Error(err))
	}

	reason := "an internal error occurred"
	switch {
	case errors.Is(cause, ledger.ErrInsufficientFunds):
		reason = "the initiator no longer has enough balance"
	case errors.Is(cause, ledger.ErrBelowMinimum):
		reason = "the amount is too small to split among the participants"
	}
	s.announce(ctx, r.ChannelID, fmt.Sprintf(
		"The reactdrop of %s by <@%s> could not be paid out: %s.",
		r.Amount.Format(s.cfg.Ticker), r.InitiatorID, reason))
}

func (s *Scheduler) announce(ctx context.Context, channelID, content string) {
	if s.announcer == nil {
		return
	}
	if err := s.announcer.SendChannelMessage(ctx, channelID, content, nil); err != nil {
		s.logger.Warn("reactdrop announcement failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (s *Scheduler) reportStuck(ctx context.Context, now time.Time) {
	stuck, err := s.store.StuckReactdrops(ctx, now.Add(-s.cfg.StuckAfter))
	if err != nil {
		s.logger.Warn("load stuck reactdrops", zap.Error(err))
		return
	}
	reactdropsStuck.Set(float64(len(stuck)))
	for _, r := range stuck {
		s.logger.Error("reactdrop stuck in settling, operator attention required",
			zap.Int64("reactdrop_id", r.ID),
			zap.String("user_id", r.InitiatorID),
			zap.Time("since", r.UpdatedAt))
	}
}

// eligible drops the initiator, empty ids and duplicates, keeping order.
func eligible(ids []string, initiator string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == initiator {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
