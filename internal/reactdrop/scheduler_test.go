package reactdrop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/memstore"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

type fakeCollector struct {
	mu    sync.Mutex
	users []string
	err   error
	calls int
}

func (f *fakeCollector) CollectReactionParticipants(context.Context, string, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.users, f.err
}

type fakeNotifier struct {
	mu          sync.Mutex
	settlements []*ledger.Settlement
}

func (f *fakeNotifier) DispatchAsync(s *ledger.Settlement, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, s)
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeAnnouncer) SendChannelMessage(_ context.Context, _, content string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return nil
}

type harness struct {
	store     *memstore.Store
	collector *fakeCollector
	notifier  *fakeNotifier
	announcer *fakeAnnouncer
	engine    *ledger.Engine
	scheduler *reactdrop.Scheduler
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memstore.New(),
		collector: &fakeCollector{},
		notifier:  &fakeNotifier{},
		announcer: &fakeAnnouncer{},
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store.SetClock(clock)
	h.engine = ledger.NewEngine(h.store, 1)
	h.scheduler = reactdrop.New(h.store, h.engine, h.collector,
		reactdrop.Config{MinTip: 1, Ticker: "VRSC"},
		reactdrop.WithNotifier(h.notifier),
		reactdrop.WithAnnouncer(h.announcer),
		reactdrop.WithClock(clock),
	)
	return h
}

func (h *harness) create(t *testing.T, initiator string, amt amount.Amount) *reactdrop.Reactdrop {
	t.Helper()
	r, err := h.scheduler.Create(context.Background(), reactdrop.Request{
		InitiatorID: initiator,
		Trigger:     "🎉",
		Amount:      amt,
		GuildID:     "g1",
		ChannelID:   "c1",
		MessageID:   "m1",
		Deadline:    h.now.Add(time.Hour),
	})
	require.NoError(t, err)
	return r
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 100)

	base := reactdrop.Request{
		InitiatorID: "alice", Trigger: "🎉", Amount: 10,
		ChannelID: "c1", MessageID: "m1", Deadline: h.now.Add(time.Minute),
	}

	tests := []struct {
		name    string
		mutate  func(r *reactdrop.Request)
		wantErr error
	}{
		{name: "empty trigger", mutate: func(r *reactdrop.Request) { r.Trigger = " " }, wantErr: reactdrop.ErrInvalidTrigger},
		{name: "past deadline", mutate: func(r *reactdrop.Request) { r.Deadline = h.now }, wantErr: reactdrop.ErrInvalidDeadline},
		{name: "zero amount", mutate: func(r *reactdrop.Request) { r.Amount = 0 }, wantErr: ledger.ErrBelowMinimum},
		{name: "missing message", mutate: func(r *reactdrop.Request) { r.MessageID = "" }, wantErr: reactdrop.ErrMissingReference},
		{name: "more than balance", mutate: func(r *reactdrop.Request) { r.Amount = 101 }, wantErr: ledger.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := h.scheduler.Create(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateReservesAgainstPendingDrops(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 100)
	h.create(t, "alice", 60)

	_, err := h.scheduler.Create(context.Background(), reactdrop.Request{
		InitiatorID: "alice", Trigger: "🎉", Amount: 50,
		ChannelID: "c1", MessageID: "m2", Deadline: h.now.Add(time.Hour),
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	balance, committed, err := h.store.Available(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(100), balance)
	assert.Equal(t, amount.Amount(60), committed)
}

func TestSettlingReactdropStaysReserved(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 12)
	r := h.create(t, "alice", 12)

	ok, err := h.store.ClaimReactdrop(context.Background(), r.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, committed, err := h.store.Available(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(12), committed)

	_, err = h.engine.ExecuteTransfer(context.Background(), ledger.Intent{
		Source: "alice", Destinations: []string{"bob"}, Amount: 12, Kind: ledger.KindDirect,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, err = h.scheduler.Create(context.Background(), reactdrop.Request{
		InitiatorID: "alice", Trigger: "🎉", Amount: 5,
		ChannelID: "c1", MessageID: "m2", Deadline: h.now.Add(time.Hour),
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	s, err := h.engine.ExecuteTransfer(context.Background(), ledger.Intent{
		Source: "alice", Destinations: []string{"u1", "u2"}, Amount: 12,
		Kind: ledger.KindReactdrop, SettlesReactdrop: r.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(12), s.Moved)
	assert.Equal(t, reactdrop.StatusSettled, h.store.Reactdrop(r.ID).Status)

	bal, committed, err := h.store.Available(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	assert.True(t, committed.IsZero())
}

func TestSweepSettlesDueReactdrop(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 12)
	r := h.create(t, "alice", 12)
	h.collector.users = []string{"u1", "u2", "alice", "u3", "u2", "u4"}

	res, err := h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total(), "not due yet")
	assert.Equal(t, reactdrop.StatusPending, h.store.Reactdrop(r.ID).Status)

	h.now = h.now.Add(time.Hour)
	res, err = h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)

	got := h.store.Reactdrop(r.ID)
	assert.Equal(t, reactdrop.StatusSettled, got.Status)
	require.NotNil(t, got.EventID)

	bal, err := h.store.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		b, err := h.store.Balance(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, amount.Amount(3), b, u)
	}
	assert.Len(t, h.store.EntriesByEvent(*got.EventID), 4)

	require.Len(t, h.notifier.settlements, 1)
	assert.Equal(t, ledger.KindReactdrop, h.notifier.settlements[0].Kind)

	res, err = h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total(), "settled drops are never picked up again")
}

func TestSweepExpiresWithoutParticipants(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 50)
	r := h.create(t, "alice", 20)
	h.collector.users = []string{"alice"}
	h.now = h.now.Add(2 * time.Hour)

	res, err := h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	assert.Equal(t, reactdrop.StatusExpired, h.store.Reactdrop(r.ID).Status)
	assert.Zero(t, h.store.EntryCount())
	bal, committed, err := h.store.Available(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(50), bal)
	assert.True(t, committed.IsZero())
	assert.Empty(t, h.notifier.settlements)
	assert.Len(t, h.announcer.messages, 1)
}

func TestSweepDefersWhenCollectionFails(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 50)
	r := h.create(t, "alice", 20)
	h.collector.err = errors.New("gateway unavailable")
	h.now = h.now.Add(2 * time.Hour)

	res, err := h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, reactdrop.StatusPending, h.store.Reactdrop(r.ID).Status)

	h.collector.err = nil
	h.collector.users = []string{"bob"}
	res, err = h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.Equal(t, reactdrop.StatusSettled, h.store.Reactdrop(r.ID).Status)
}

func TestSettleFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 10)
	r := h.create(t, "alice", 3)
	h.collector.users = []string{"a", "b", "c", "d"}
	h.now = h.now.Add(2 * time.Hour)

	outcome, err := h.scheduler.Settle(context.Background(), h.store.Reactdrop(r.ID))
	require.ErrorIs(t, err, ledger.ErrBelowMinimum)
	assert.Equal(t, reactdrop.OutcomeFailed, outcome)

	got := h.store.Reactdrop(r.ID)
	assert.Equal(t, reactdrop.StatusFailed, got.Status)
	assert.NotEmpty(t, got.Failure)
	assert.Zero(t, h.store.EntryCount())
	require.Len(t, h.announcer.messages, 1)
	assert.Contains(t, h.announcer.messages[0], "could not be paid out")

	res, err := h.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total())
}

func TestSettleSingleClaimUnderConcurrentSweeps(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 100)
	r := h.create(t, "alice", 40)
	h.collector.users = []string{"u1", "u2"}
	h.now = h.now.Add(2 * time.Hour)
	drop := h.store.Reactdrop(r.ID)

	const sweepers = 16
	outcomes := make([]reactdrop.Outcome, sweepers)
	var wg sync.WaitGroup
	for i := 0; i < sweepers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := *drop
			outcome, err := h.scheduler.Settle(context.Background(), &cp)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, o := range outcomes {
		switch o {
		case reactdrop.OutcomeSettled:
			settled++
		default:
			assert.Equal(t, reactdrop.OutcomeLost, o)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 2, h.store.EntryCount())

	bal, err := h.store.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(60), bal)
}

func TestStartRunsImmediateSweep(t *testing.T) {
	h := newHarness(t)
	h.store.SetBalance("alice", 10)
	r := h.create(t, "alice", 10)
	h.collector.users = []string{"bob"}
	h.now = h.now.Add(2 * time.Hour)

	h.scheduler.Start()
	require.Eventually(t, func() bool {
		return h.store.Reactdrop(r.ID).Status == reactdrop.StatusSettled
	}, 2*time.Second, 10*time.Millisecond)
	h.scheduler.Stop()
	h.scheduler.Stop()
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to reactdrop.Status
		want     bool
	}{
		{reactdrop.StatusPending, reactdrop.StatusSettling, true},
		{reactdrop.StatusPending, reactdrop.StatusExpired, true},
		{reactdrop.StatusPending, reactdrop.StatusSettled, false},
		{reactdrop.StatusSettling, reactdrop.StatusSettled, true},
		{reactdrop.StatusSettling, reactdrop.StatusFailed, true},
		{reactdrop.StatusSettling, reactdrop.StatusPending, false},
		{reactdrop.StatusSettled, reactdrop.StatusFailed, false},
		{reactdrop.StatusExpired, reactdrop.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	_, err := reactdrop.ParseStatus("cancelled")
	require.ErrorIs(t, err, reactdrop.ErrStatusInvalid)
}
