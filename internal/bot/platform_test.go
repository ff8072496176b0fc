package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	sent      []*discordgo.MessageSend
	sentTo    []string
	members   []*discordgo.Member
	reactions []*discordgo.User
	emojis    []*discordgo.Emoji
	afters    []string
	err       error
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, data)
	f.sentTo = append(f.sentTo, channelID)
	return &discordgo.Message{ID: fmt.Sprintf("m%d", len(f.sent)), ChannelID: channelID}, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) GuildMembers(_ string, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.afters = append(f.afters, after)
	return page(f.members, after, limit, func(m *discordgo.Member) string { return m.User.ID }), nil
}

func (f *fakeSession) MessageReactions(_, _, _ string, limit int, _, afterID string, _ ...discordgo.RequestOption) ([]*discordgo.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.afters = append(f.afters, afterID)
	return page(f.reactions, afterID, limit, func(u *discordgo.User) string { return u.ID }), nil
}

func (f *fakeSession) GuildEmojis(string, ...discordgo.RequestOption) ([]*discordgo.Emoji, error) {
	return f.emojis, nil
}

func (f *fakeSession) MessageReactionAdd(string, string, string, ...discordgo.RequestOption) error {
	return nil
}

func (f *fakeSession) ChannelMessageDelete(string, string, ...discordgo.RequestOption) error {
	return nil
}

// page returns up to limit items following the one whose id is after.
func page[T any](items []T, after string, limit int, id func(T) string) []T {
	start := 0
	if after != "" {
		for i, it := range items {
			if id(it) == after {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}

func TestSendChannelMessagePingsOnlyListedUsers(t *testing.T) {
	s := &fakeSession{}
	p := NewPlatform(s)

	require.NoError(t, p.SendChannelMessage(context.Background(), "chan", "<@a> tipped <@b> and <@c>", []string{"b"}))
	require.Len(t, s.sent, 1)
	am := s.sent[0].AllowedMentions
	require.NotNil(t, am)
	assert.Empty(t, am.Parse)
	assert.Equal(t, []string{"b"}, am.Users)
}

func TestSendDirectMessageOpensChannel(t *testing.T) {
	s := &fakeSession{}
	p := NewPlatform(s)

	require.NoError(t, p.SendDirectMessage(context.Background(), "bob", "hi"))
	assert.Equal(t, []string{"dm-bob"}, s.sentTo)
}

func TestSendAnnouncementReturnsMessageID(t *testing.T) {
	s := &fakeSession{}
	id, err := NewPlatform(s).SendAnnouncement(context.Background(), "chan", "drop")
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.Empty(t, s.sent[0].AllowedMentions.Users)

	s.err = errors.New("forbidden")
	_, err = NewPlatform(s).SendAnnouncement(context.Background(), "chan", "drop")
	assert.Error(t, err)
}

func TestResolveRoleMembersPages(t *testing.T) {
	s := &fakeSession{}
	for i := 0; i < membersPageSize+5; i++ {
		roles := []string{"other"}
		if i%2 == 0 {
			roles = append(roles, "role")
		}
		s.members = append(s.members, &discordgo.Member{
			User:  &discordgo.User{ID: fmt.Sprintf("u%04d", i), Bot: i == 2},
			Roles: roles,
		})
	}
	p := NewPlatform(s)

	ids, err := p.ResolveRoleMembers(context.Background(), "guild", "role")
	require.NoError(t, err)
	assert.Len(t, ids, (membersPageSize+5+1)/2-1)
	assert.NotContains(t, ids, "u0002")
	assert.Equal(t, []string{"", fmt.Sprintf("u%04d", membersPageSize-1)}, s.afters)

	s.afters = nil
	everyone, err := p.ResolveRoleMembers(context.Background(), "guild", "guild")
	require.NoError(t, err)
	assert.Len(t, everyone, membersPageSize+4)
}

func TestCollectReactionParticipants(t *testing.T) {
	s := &fakeSession{}
	for i := 0; i < reactionsPageSize*2; i++ {
		s.reactions = append(s.reactions, &discordgo.User{ID: fmt.Sprintf("r%03d", i), Bot: i == 0})
	}
	p := NewPlatform(s)

	ids, err := p.CollectReactionParticipants(context.Background(), "chan", "msg", "🎉")
	require.NoError(t, err)
	assert.Len(t, ids, reactionsPageSize*2-1)
	assert.NotContains(t, ids, "r000")
	// a full last page forces one more empty request
	assert.Len(t, s.afters, 3)

	s.err = errors.New("unavailable")
	_, err = p.CollectReactionParticipants(context.Background(), "chan", "msg", "🎉")
	assert.Error(t, err)
}

func TestGuildHasEmoji(t *testing.T) {
	s := &fakeSession{emojis: []*discordgo.Emoji{{ID: "1", Name: "verus"}}}
	p := NewPlatform(s)

	ok, err := p.GuildHasEmoji(context.Background(), "guild", "1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.GuildHasEmoji(context.Background(), "guild", "2")
	require.NoError(t, err)
	assert.False(t, ok)
}
