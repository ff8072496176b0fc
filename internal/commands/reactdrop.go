package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/forPelevin/gomoji"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

const (
	maxReactdropDuration = 30 * 24 * time.Hour
	recentReactdrops     = 10
)

var customEmojiPattern = regexp.MustCompile(`^<(a?):([A-Za-z0-9_~]{2,32}):([0-9]{15,21})>$`)

// emoji is a reaction trigger. APIName is the form Discord's reaction
// endpoints take.
type emoji struct {
	APIName  string
	Display  string
	CustomID string
}

func parseEmoji(raw string) (emoji, bool) {
	raw = strings.TrimSpace(raw)
	if m := customEmojiPattern.FindStringSubmatch(raw); m != nil {
		return emoji{APIName: m[2] + ":" + m[3], Display: raw, CustomID: m[3]}, true
	}
	if isUnicodeEmoji(raw) {
		return emoji{APIName: raw, Display: raw}, true
	}
	return emoji{}, false
}

// isUnicodeEmoji accepts exactly one emoji from the Unicode emoji list.
// Symbols that are only emoji in their presentation form, like ❤, are looked
// up with the variation selector appended.
func isUnicodeEmoji(s string) bool {
	if s == "" {
		return false
	}
	if _, err := gomoji.GetInfo(s); err == nil {
		return true
	}
	_, err := gomoji.GetInfo(s + "\uFE0F")
	return err == nil
}

// unknownEmoji reports whether Discord refused a reaction because it does not
// know the emoji.
func unknownEmoji(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownEmoji
}

func reactdropDuration(value float64, unit string) (time.Duration, bool) {
	if value < 1 {
		return 0, false
	}
	var d time.Duration
	switch unit {
	case "hours":
		d = time.Duration(value) * time.Hour
	case "minutes":
		d = time.Duration(value) * time.Minute
	default:
		return 0, false
	}
	if d <= 0 || d > maxReactdropDuration {
		return 0, false
	}
	return d, true
}

func (h *Handler) handleReactdrop(inv *invocation) {
	if inv.i.GuildID == "" {
		inv.reply("You need to be in a Discord server to use this command.")
		return
	}
	opts := optionMap(inv.data.Options)

	trigger, ok := parseEmoji(stringOption(opts, "emoji"))
	if !ok {
		h.fail(inv, reactdrop.ErrInvalidTrigger)
		return
	}
	amt, err := amountFromOption(opts)
	if err != nil {
		h.fail(inv, err)
		return
	}
	if amt <= h.minTip() {
		h.fail(inv, ledger.ErrBelowMinimum)
		return
	}
	value, _ := numberOption(opts, "time")
	duration, ok := reactdropDuration(value, stringOption(opts, "unit"))
	if !ok {
		inv.replyf("Pick a duration between one minute and %d days.", int(maxReactdropDuration.Hours()/24))
		return
	}

	inv.deferReply()

	if trigger.CustomID != "" {
		found, err := h.Platform.GuildHasEmoji(inv.ctx, inv.i.GuildID, trigger.CustomID)
		if err != nil {
			h.fail(inv, err)
			return
		}
		if !found {
			inv.reply("This emoji is not found in this Discord server, so it can't be used. Please pick another one.")
			return
		}
	}

	balance, committed, err := h.Accounts.Available(inv.ctx, inv.userID)
	if err != nil {
		h.fail(inv, err)
		return
	}
	if balance-committed < amt {
		h.fail(inv, ledger.ErrInsufficientFunds)
		return
	}

	deadline := h.Now().Add(duration)
	announcement := fmt.Sprintf(">>> **A reactdrop of %s was started by <@%s>!**\n\nReact with the %s emoji to participate.\n\nIt ends <t:%d:R>.",
		amt.Format(h.Ticker), inv.userID, trigger.Display, deadline.Unix())
	messageID, err := h.Platform.SendAnnouncement(inv.ctx, inv.i.ChannelID, announcement)
	if err != nil {
		h.fail(inv, err)
		return
	}
	if err := h.Platform.AddReaction(inv.ctx, inv.i.ChannelID, messageID, trigger.APIName); err != nil {
		if unknownEmoji(err) {
			h.removeAnnouncement(inv, messageID)
			h.fail(inv, reactdrop.ErrInvalidTrigger)
			return
		}
		inv.log.Warn("add reactdrop reaction", zap.Error(err))
	}

	r, err := h.Reactdrops.Create(inv.ctx, reactdrop.Request{
		InitiatorID: inv.userID,
		Trigger:     trigger.APIName,
		Amount:      amt,
		GuildID:     inv.i.GuildID,
		ChannelID:   inv.i.ChannelID,
		MessageID:   messageID,
		Deadline:    deadline,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrPersistence) && h.reactdropExists(inv.ctx, inv.userID, messageID) {
			// The row was written even though the store reported a failure.
			inv.log.Warn("reactdrop stored despite create error", zap.Error(err))
			inv.replyf("Your reactdrop of %s is live and ends <t:%d:R>. The amount stays reserved until then.",
				amt.Format(h.Ticker), deadline.Unix())
			return
		}
		h.removeAnnouncement(inv, messageID)
		h.fail(inv, err)
		return
	}

	inv.log.Info("reactdrop started", zap.Int64("reactdrop_id", r.ID))
	inv.replyf("Your reactdrop of %s is live and ends <t:%d:R>. The amount stays reserved until then.",
		amt.Format(h.Ticker), deadline.Unix())
}

func (h *Handler) removeAnnouncement(inv *invocation, messageID string) {
	if err := h.Platform.DeleteMessage(inv.ctx, inv.i.ChannelID, messageID); err != nil {
		inv.log.Warn("remove announcement of rejected reactdrop", zap.Error(err))
	}
}

// reactdropExists looks for a stored reactdrop of userID announced in
// messageID. Lookup errors count as not found.
func (h *Handler) reactdropExists(ctx context.Context, userID, messageID string) bool {
	drops, err := h.Accounts.ReactdropsByInitiator(ctx, userID, recentReactdrops)
	if err != nil {
		return false
	}
	for _, r := range drops {
		if r.MessageID == messageID {
			return true
		}
	}
	return false
}
