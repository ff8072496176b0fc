package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const (
	membersPageSize   = 1000
	reactionsPageSize = 100
)

var errNoChannel = errors.New("discord returned no channel")

// Session is the subset of *discordgo.Session the platform calls.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
	GuildEmojis(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Emoji, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Platform adapts a Discord session to the messaging interfaces the rest of
// the bot depends on.
type Platform struct {
	session Session
}

func NewPlatform(session Session) *Platform {
	return &Platform{session: session}
}

// SendChannelMessage posts content and lets only the users in ping be
// notified by their mention. Every other mention renders without a ping.
func (p *Platform) SendChannelMessage(ctx context.Context, channelID, content string, ping []string) error {
	_, err := p.send(ctx, channelID, content, ping)
	return err
}

// SendAnnouncement posts content without pinging anyone and returns the new
// message id.
func (p *Platform) SendAnnouncement(ctx context.Context, channelID, content string) (string, error) {
	msg, err := p.send(ctx, channelID, content, nil)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (p *Platform) send(ctx context.Context, channelID, content string, ping []string) (*discordgo.Message, error) {
	msg, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
			Users: ping,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("send message to channel %s: %w", channelID, err)
	}
	return msg, nil
}

func (p *Platform) SendDirectMessage(ctx context.Context, userID, content string) error {
	ch, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel with %s: %w", userID, err)
	}
	if ch == nil {
		return errNoChannel
	}
	_, err = p.send(ctx, ch.ID, content, nil)
	return err
}

// ResolveRoleMembers lists the non-bot members holding roleID. The @everyone
// role shares the guild's id and matches every member.
func (p *Platform) ResolveRoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	everyone := roleID == guildID
	var ids []string
	after := ""
	for {
		members, err := p.session.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list members of guild %s: %w", guildID, err)
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			after = m.User.ID
			if m.User.Bot {
				continue
			}
			if everyone || hasRole(m, roleID) {
				ids = append(ids, m.User.ID)
			}
		}
		if len(members) < membersPageSize {
			return ids, nil
		}
	}
}

func hasRole(m *discordgo.Member, roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// CollectReactionParticipants pages through every user who reacted with
// trigger, skipping bots.
func (p *Platform) CollectReactionParticipants(ctx context.Context, channelID, messageID, trigger string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	after := ""
	for {
		users, err := p.session.MessageReactions(channelID, messageID, trigger, reactionsPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list reactions on %s/%s: %w", channelID, messageID, err)
		}
		for _, u := range users {
			after = u.ID
			if u.Bot {
				continue
			}
			if _, ok := seen[u.ID]; ok {
				continue
			}
			seen[u.ID] = struct{}{}
			ids = append(ids, u.ID)
		}
		if len(users) < reactionsPageSize {
			return ids, nil
		}
	}
}

func (p *Platform) GuildHasEmoji(ctx context.Context, guildID, emojiID string) (bool, error) {
	emojis, err := p.session.GuildEmojis(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("list emojis of guild %s: %w", guildID, err)
	}
	for _, e := range emojis {
		if e.ID == emojiID {
			return true, nil
		}
	}
	return false, nil
}

func (p *Platform) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := p.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := p.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}
