package bot

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/commands"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("connected", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))

	if b.guildID != "" {
		b.registerCommands(s, b.guildID)
		return
	}
	for _, guild := range event.Guilds {
		b.registerCommands(s, guild.ID)
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	if b.guildID != "" && event.ID != b.guildID {
		return
	}
	b.logger.Debug("guild available", zap.String("guild_id", event.ID), zap.String("name", event.Name))
	b.registerCommands(s, event.ID)
}

func (b *Bot) registerCommands(s *discordgo.Session, guildID string) {
	if s.State == nil || s.State.User == nil {
		return
	}
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, commands.Definitions())
	if err != nil {
		b.logger.Error("register commands", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	b.logger.Debug("registered commands", zap.String("guild_id", guildID))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if b.handler == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	b.handler.Handle(s, i)
}
