// Package commands implements the bot's slash commands.
package commands

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/notify"
	"github.com/susu3304/tipbot/internal/reactdrop"
	"github.com/susu3304/tipbot/internal/wallet"
)

const commandTimeout = 30 * time.Second

// Responder is the part of the Discord session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Accounts interface {
	Available(ctx context.Context, userID string) (balance, committed amount.Amount, err error)
	Entries(ctx context.Context, userID string, limit int) ([]ledger.Entry, error)
	SetNotificationPreference(ctx context.Context, userID string, p notify.Preference) error
	IsBlacklisted(ctx context.Context, userID string) (bool, error)
	ReactdropsByInitiator(ctx context.Context, userID string, limit int) ([]*reactdrop.Reactdrop, error)
}

type Transferer interface {
	ExecuteTransfer(ctx context.Context, intent ledger.Intent) (*ledger.Settlement, error)
}

type Reactdrops interface {
	Create(ctx context.Context, req reactdrop.Request) (*reactdrop.Reactdrop, error)
}

type Notifier interface {
	DispatchAsync(s *ledger.Settlement, channelID string)
}

// Platform is the Discord side the commands need beyond the interaction.
type Platform interface {
	ResolveRoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)
	SendAnnouncement(ctx context.Context, channelID, content string) (string, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	GuildHasEmoji(ctx context.Context, guildID, emojiID string) (bool, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type ChainInfo interface {
	Configured() bool
	BlockchainInfo(ctx context.Context) (*wallet.BlockchainInfo, error)
	MiningInfo(ctx context.Context) (*wallet.MiningInfo, error)
	OutboundPeers(ctx context.Context) ([]string, error)
}

type Deps struct {
	Accounts   Accounts
	Engine     Transferer
	Reactdrops Reactdrops
	Notifier   Notifier
	Platform   Platform
	Chain      ChainInfo
	Logger     *zap.Logger
	Ticker     string
	Now        func() time.Time
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{Deps: d}
}

// Handle routes an application command. Every reply is ephemeral; public
// messages go through the notifier or the platform.
func (h *Handler) Handle(s Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	user := invoker(i)
	if user == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	log := h.Logger.With(zap.String("command", data.Name), zap.String("user_id", user.ID))

	blocked, err := h.Accounts.IsBlacklisted(ctx, user.ID)
	if err != nil {
		log.Error("check blacklist", zap.Error(err))
		respondText(s, i, msgInternalError)
		return
	}
	if blocked {
		log.Debug("ignoring blacklisted user")
		return
	}

	inv := &invocation{
		ctx:    ctx,
		s:      s,
		i:      i,
		data:   data,
		userID: user.ID,
		log:    log,
	}

	switch data.Name {
	case cmdTip:
		h.handleTip(inv)
	case cmdReactdrop:
		h.handleReactdrop(inv)
	case cmdBalance:
		h.handleBalance(inv)
	case cmdNotifications:
		h.handleNotifications(inv)
	case cmdHistory:
		h.handleHistory(inv)
	case cmdChainInfo:
		h.handleChainInfo(inv)
	case cmdPeerInfo:
		h.handlePeerInfo(inv)
	default:
		log.Warn("unknown command")
	}
}

type invocation struct {
	ctx    context.Context
	s      Responder
	i      *discordgo.InteractionCreate
	data   discordgo.ApplicationCommandInteractionData
	userID string
	log    *zap.Logger

	deferred bool
}

func invoker(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
