// Package bot connects the tip bot to the Discord gateway.
package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/commands"
)

// Interactions handles slash command invocations.
type Interactions interface {
	Handle(s commands.Responder, i *discordgo.InteractionCreate)
}

type Bot struct {
	session  *discordgo.Session
	platform *Platform
	handler  Interactions
	logger   *zap.Logger
	guildID  string
}

// New creates a gateway session for token. When guildID is set, commands are
// registered to that guild only; otherwise to every guild the bot joins.
func New(token, guildID string, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bot{
		session:  session,
		platform: NewPlatform(session),
		logger:   logger.Named("gateway"),
		guildID:  guildID,
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions

	return b, nil
}

// Platform is the REST side of the session, shared with the scheduler and the
// notifier.
func (b *Bot) Platform() *Platform { return b.platform }

// Start opens the gateway and begins routing interactions to h.
func (b *Bot) Start(h Interactions) error {
	b.handler = h
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.logger.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}
