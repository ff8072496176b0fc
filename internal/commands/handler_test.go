package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/memstore"
	"github.com/susu3304/tipbot/internal/notify"
	"github.com/susu3304/tipbot/internal/reactdrop"
	"github.com/susu3304/tipbot/internal/wallet"
)

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
	edits     []string
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, r *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, r)
	return nil
}

func (f *fakeResponder) InteractionResponseEdit(_ *discordgo.Interaction, e *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, *e.Content)
	return &discordgo.Message{}, nil
}

// reply is what the user ended up seeing.
func (f *fakeResponder) reply() string {
	if len(f.edits) > 0 {
		return f.edits[len(f.edits)-1]
	}
	if len(f.responses) == 0 || f.responses[len(f.responses)-1].Data == nil {
		return ""
	}
	return f.responses[len(f.responses)-1].Data.Content
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

type fakePlatform struct {
	members       []string
	emojis        map[string]bool
	announcements []string
	reactions     []string
	deleted       []string
	sendErr       error
	reactionErr   error
}

func (f *fakePlatform) ResolveRoleMembers(context.Context, string, string) ([]string, error) {
	return f.members, nil
}

func (f *fakePlatform) SendAnnouncement(_ context.Context, _, content string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.announcements = append(f.announcements, content)
	return "msg-1", nil
}

func (f *fakePlatform) AddReaction(_ context.Context, _, _, e string) error {
	f.reactions = append(f.reactions, e)
	return f.reactionErr
}

func (f *fakePlatform) GuildHasEmoji(_ context.Context, _, id string) (bool, error) {
	return f.emojis[id], nil
}

func (f *fakePlatform) DeleteMessage(_ context.Context, _, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fixture struct {
	store    *memstore.Store
	notifier *fakeNotifier
	platform *fakePlatform
	handler  *Handler
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		notifier: &fakeNotifier{},
		platform: &fakePlatform{emojis: map[string]bool{}},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	engine := ledger.NewEngine(f.store, 1)
	sched := reactdrop.New(f.store, engine, nil, reactdrop.Config{MinTip: 1}, reactdrop.WithClock(clock))
	f.handler = NewHandler(Deps{
		Accounts:   f.store,
		Engine:     engine,
		Reactdrops: sched,
		Notifier:   f.notifier,
		Platform:   f.platform,
		Ticker:     "VRSC",
		Now:        clock,
	})
	return f
}

func (f *fixture) run(user, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *fakeResponder {
	r := &fakeResponder{}
	f.handler.Handle(r, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "guild",
		ChannelID: "chan",
		Member:    &discordgo.Member{User: &discordgo.User{ID: user}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}})
	return r
}

func opt(name string, typ discordgo.ApplicationCommandOptionType, value any) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: typ, Value: value}
}

func sub(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts}
}

func coins(v float64) *discordgo.ApplicationCommandInteractionDataOption {
	return opt("amount", discordgo.ApplicationCommandOptionNumber, v)
}

func TestTipUser(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)

	r := f.run("alice", cmdTip, sub("user", opt("user", discordgo.ApplicationCommandOptionUser, "bob"), coins(0.3)))
	assert.Equal(t, "You tipped <@bob> 0.30000000 VRSC.", r.reply())
	assert.Equal(t, discordgo.MessageFlagsEphemeral, r.responses[0].Data.Flags)

	bal, err := f.store.Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(30_000_000), bal)
	require.Len(t, f.notifier.settlements, 1)
	assert.Equal(t, ledger.KindDirect, f.notifier.settlements[0].Kind)
}

func TestTipUserRejections(t *testing.T) {
	tests := []struct {
		name   string
		target string
		amount float64
		want   string
	}{
		{name: "self", target: "alice", amount: 0.1, want: "You can't tip yourself."},
		{name: "insufficient", target: "bob", amount: 5, want: "You don't have enough available balance"},
		{name: "zero", target: "bob", amount: 0, want: "The amount is too small"},
		{name: "too precise", target: "bob", amount: 0.000000001, want: "The amount is too small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.SetBalance("alice", amount.SatsPerCoin)

			r := f.run("alice", cmdTip, sub("user", opt("user", discordgo.ApplicationCommandOptionUser, tt.target), coins(tt.amount)))
			assert.Contains(t, r.reply(), tt.want)
			assert.Zero(t, f.store.EntryCount())
			assert.Empty(t, f.notifier.settlements)
		})
	}
}

func TestBlacklistedUserIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)
	f.store.Blacklist("alice")

	r := f.run("alice", cmdTip, sub("user", opt("user", discordgo.ApplicationCommandOptionUser, "bob"), coins(0.3)))
	assert.Empty(t, r.responses)
	assert.Zero(t, f.store.EntryCount())
}

func TestTipRoleReportsRemainder(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", 100)
	f.platform.members = []string{"r1", "alice", "r2", "r3"}

	r := f.run("alice", cmdTip, sub("role", opt("role", discordgo.ApplicationCommandOptionRole, "role-1"), coins(0.0000001)))
	require.NotEmpty(t, r.responses)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, r.responses[0].Type)
	assert.Equal(t, "You asked to tip 0.00000010 VRSC. 3 members received 0.00000003 VRSC each, so 0.00000009 VRSC was sent and 0.00000001 VRSC stayed with you.", r.reply())

	bal, err := f.store.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(91), bal)
	require.Len(t, f.notifier.settlements, 1)
	assert.Equal(t, []string{"r1", "r2", "r3"}, f.notifier.settlements[0].Destinations)
}

func TestTipRoleWithoutOtherMembers(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", 100)
	f.platform.members = []string{"alice"}

	r := f.run("alice", cmdTip, sub("role", opt("role", discordgo.ApplicationCommandOptionRole, "role-1"), coins(0.0000001)))
	assert.Contains(t, r.reply(), "Nobody else has that role")
	assert.Zero(t, f.store.EntryCount())
}

func reactdropOptions(e string, amt float64, value float64, unit string) []*discordgo.ApplicationCommandInteractionDataOption {
	return []*discordgo.ApplicationCommandInteractionDataOption{
		opt("emoji", discordgo.ApplicationCommandOptionString, e),
		coins(amt),
		opt("time", discordgo.ApplicationCommandOptionInteger, value),
		opt("unit", discordgo.ApplicationCommandOptionString, unit),
	}
}

func TestReactdropStarts(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)

	r := f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.5, 2, "hours")...)
	assert.Contains(t, r.reply(), "Your reactdrop of 0.50000000 VRSC is live")

	require.Len(t, f.platform.announcements, 1)
	assert.Contains(t, f.platform.announcements[0], "A reactdrop of 0.50000000 VRSC was started by <@alice>!")
	assert.Equal(t, []string{"🎉"}, f.platform.reactions)

	drops, err := f.store.ReactdropsByInitiator(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, drops, 1)
	d := drops[0]
	assert.Equal(t, reactdrop.StatusPending, d.Status)
	assert.Equal(t, "msg-1", d.MessageID)
	assert.Equal(t, "chan", d.ChannelID)
	assert.True(t, f.now.Add(2*time.Hour).Equal(d.Deadline))

	bal, committed, err := f.store.Available(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(amount.SatsPerCoin), bal)
	assert.Equal(t, amount.Amount(50_000_000), committed)
}

func TestReactdropCustomEmojiMustBelongToGuild(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)

	r := f.run("alice", cmdReactdrop, reactdropOptions("<:party:123456789012345678>", 0.5, 30, "minutes")...)
	assert.Contains(t, r.reply(), "not found in this Discord server")
	assert.Empty(t, f.platform.announcements)

	f.platform.emojis["123456789012345678"] = true
	r = f.run("alice", cmdReactdrop, reactdropOptions("<:party:123456789012345678>", 0.5, 30, "minutes")...)
	assert.Contains(t, r.reply(), "is live")
	assert.Equal(t, []string{"party:123456789012345678"}, f.platform.reactions)
}

func TestReactdropRejections(t *testing.T) {
	tests := []struct {
		name string
		opts []*discordgo.ApplicationCommandInteractionDataOption
		want string
	}{
		{name: "not an emoji", opts: reactdropOptions("hello", 0.5, 1, "hours"), want: "not a valid emoji"},
		{name: "insufficient", opts: reactdropOptions("🎉", 2, 1, "hours"), want: "enough available balance"},
		{name: "bad unit", opts: reactdropOptions("🎉", 0.5, 1, "days"), want: "Pick a duration"},
		{name: "too long", opts: reactdropOptions("🎉", 0.5, 1000, "hours"), want: "Pick a duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.SetBalance("alice", amount.SatsPerCoin)

			r := f.run("alice", cmdReactdrop, tt.opts...)
			assert.Contains(t, r.reply(), tt.want)
			assert.Empty(t, f.platform.announcements)
		})
	}
}

func TestReactdropAnnouncementFailure(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)
	f.platform.sendErr = errors.New("missing permissions")

	r := f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.5, 1, "hours")...)
	assert.Equal(t, msgInternalError, r.reply())
	drops, err := f.store.ReactdropsByInitiator(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, drops)
}

func TestReactdropUnknownEmojiIsRejected(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)
	f.platform.reactionErr = fmt.Errorf("add reaction: %w", &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownEmoji, Message: "Unknown Emoji"},
	})

	r := f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.5, 1, "hours")...)
	assert.Contains(t, r.reply(), "not a valid emoji")
	assert.Equal(t, []string{"msg-1"}, f.platform.deleted)

	drops, err := f.store.ReactdropsByInitiator(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, drops)
}

func TestReactdropOtherReactionErrorsAreTolerated(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)
	f.platform.reactionErr = errors.New("rate limited")

	r := f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.5, 1, "hours")...)
	assert.Contains(t, r.reply(), "is live")
	assert.Empty(t, f.platform.deleted)
}

// flakyReactdrops stores the reactdrop and still reports a failure, like a
// commit whose acknowledgement was lost.
type flakyReactdrops struct {
	store  *memstore.Store
	stored bool
}

func (f *flakyReactdrops) Create(ctx context.Context, req reactdrop.Request) (*reactdrop.Reactdrop, error) {
	if f.stored {
		if _, err := f.store.CreateReactdrop(ctx, req); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: create reactdrop: connection reset", ledger.ErrPersistence)
}

func TestReactdropCreateFailureKeepsStoredAnnouncement(t *testing.T) {
	tests := []struct {
		name        string
		stored      bool
		wantReply   string
		wantDeleted []string
	}{
		{name: "row written", stored: true, wantReply: "is live"},
		{name: "nothing written", stored: false, wantReply: msgInternalError, wantDeleted: []string{"msg-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.SetBalance("alice", amount.SatsPerCoin)
			f.handler.Reactdrops = &flakyReactdrops{store: f.store, stored: tt.stored}

			r := f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.5, 1, "hours")...)
			assert.Contains(t, r.reply(), tt.wantReply)
			assert.Equal(t, tt.wantDeleted, f.platform.deleted)
		})
	}
}

func TestReactdropAtMinimumIsRejected(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)

	r := f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.00000001, 1, "hours")...)
	assert.Contains(t, r.reply(), "It has to be more than 0.00000001 VRSC")
	assert.Empty(t, f.platform.announcements)
}

func TestBalanceShowsReservations(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("alice", amount.SatsPerCoin)

	assert.Equal(t, "Your balance is 1.00000000 VRSC.", f.run("alice", cmdBalance).reply())

	f.run("alice", cmdReactdrop, reactdropOptions("🎉", 0.25, 1, "hours")...)
	got := f.run("alice", cmdBalance).reply()
	assert.Contains(t, got, "Reserved for open reactdrops: 0.25000000 VRSC")
	assert.Contains(t, got, "Available: 0.75000000 VRSC")
}

func TestNotificationsSetting(t *testing.T) {
	f := newFixture(t)

	r := f.run("bob", cmdNotifications, opt("setting", discordgo.ApplicationCommandOptionString, "dm"))
	assert.Equal(t, "Notifications set to direct message only.", r.reply())

	p, err := f.store.NotificationPreference(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, notify.PreferenceDMOnly, p)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("alice", cmdHistory).reply(), "haven't sent or received")

	f.store.SetBalance("alice", amount.SatsPerCoin)
	f.run("alice", cmdTip, sub("user", opt("user", discordgo.ApplicationCommandOptionUser, "bob"), coins(0.1)))
	f.store.SetBalance("bob", amount.SatsPerCoin)
	f.run("bob", cmdTip, sub("user", opt("user", discordgo.ApplicationCommandOptionUser, "alice"), coins(0.2)))

	got := f.run("alice", cmdHistory).reply()
	assert.Contains(t, got, "received 0.20000000 VRSC from <@bob> (direct)")
	assert.Contains(t, got, "sent 0.10000000 VRSC to <@bob> (direct)")
}

func TestChainInfoWithoutWallet(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Chain information is not available.", f.run("alice", cmdChainInfo).reply())
}

type fakeChain struct {
	err   error
	peers []string
}

func (f *fakeChain) Configured() bool { return true }

func (f *fakeChain) BlockchainInfo(context.Context) (*wallet.BlockchainInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &wallet.BlockchainInfo{Chain: "main", Blocks: 3_000_000, Difficulty: 1234.5678}, nil
}

func (f *fakeChain) MiningInfo(context.Context) (*wallet.MiningInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &wallet.MiningInfo{Blocks: 3_000_000, StakingSupply: 2 * amount.SatsPerCoin, AverageBlockFees: 1_000}, nil
}

func (f *fakeChain) OutboundPeers(context.Context) ([]string, error) {
	return f.peers, f.err
}

func TestChainInfo(t *testing.T) {
	f := newFixture(t)
	f.handler.Chain = &fakeChain{peers: []string{"1.2.3.4:27485"}}

	got := f.run("alice", cmdChainInfo).reply()
	assert.Contains(t, got, "height: 3000000")
	assert.Contains(t, got, "difficulty: 1234.57")
	assert.Contains(t, got, "amount staking: 2.00000000 VRSC")
	assert.Contains(t, got, "average block fees: 0.00001000 VRSC")

	assert.Contains(t, f.run("alice", cmdPeerInfo).reply(), "1.2.3.4:27485")
}

func TestChainInfoWalletFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "circuit open", err: wallet.ErrUnavailable},
		{name: "rpc error", err: &wallet.RPCError{Code: -28, Message: "Loading block index..."}},
		{name: "transport", err: errors.New("dial tcp 127.0.0.1:27486: connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.handler.Chain = &fakeChain{err: tt.err}

			assert.Equal(t, "Chain information is not available right now.", f.run("alice", cmdChainInfo).reply())
			assert.Equal(t, "Peer information is not available right now.", f.run("alice", cmdPeerInfo).reply())
		})
	}
}

func TestParseEmoji(t *testing.T) {
	tests := []struct {
		in      string
		wantOK  bool
		wantAPI string
	}{
		{in: "🎉", wantOK: true, wantAPI: "🎉"},
		{in: " 👍 ", wantOK: true, wantAPI: "👍"},
		{in: "🇳🇱", wantOK: true, wantAPI: "🇳🇱"},
		{in: "❤️", wantOK: true, wantAPI: "❤️"},
		{in: "<:verus:123456789012345678>", wantOK: true, wantAPI: "verus:123456789012345678"},
		{in: "<a:spin:123456789012345678>", wantOK: true, wantAPI: "spin:123456789012345678"},
		{in: "", wantOK: false},
		{in: "abc", wantOK: false},
		{in: "7", wantOK: false},
		{in: "🎉 🎉", wantOK: false},
		{in: ":tada:", wantOK: false},
		{in: "😀😀", wantOK: false},
		{in: "♔", wantOK: false},
		{in: "⌘", wantOK: false},
		{in: "☎☎☎", wantOK: false},
		{in: "🇦", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseEmoji(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantAPI, got.APIName)
			}
		})
	}
}
