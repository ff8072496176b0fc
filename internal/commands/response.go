package commands

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

const msgInternalError = "Something went wrong on our side. Nothing was sent; please check /balance before trying again."

func respondText(s Responder, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         content,
			Flags:           discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		},
	})
}

// deferReply acknowledges a command that may take longer than Discord's
// three second response window.
func (inv *invocation) deferReply() {
	err := inv.s.InteractionRespond(inv.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		inv.log.Warn("defer interaction response", zap.Error(err))
		return
	}
	inv.deferred = true
}

func (inv *invocation) reply(content string) {
	if !inv.deferred {
		respondText(inv.s, inv.i, content)
		return
	}
	if _, err := inv.s.InteractionResponseEdit(inv.i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		inv.log.Warn("edit interaction response", zap.Error(err))
	}
}

func (inv *invocation) replyf(format string, args ...any) {
	inv.reply(fmt.Sprintf(format, args...))
}

// fail answers with a message for err. Validation errors are explained to the
// user; anything else is logged and reported generically.
func (h *Handler) fail(inv *invocation, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		inv.reply("You don't have enough available balance for this. Pending reactdrops count against your balance.")
	case errors.Is(err, ledger.ErrBelowMinimum):
		inv.replyf("The amount is too small. It has to be more than %s, and every recipient has to receive at least %s.",
			h.minTip().Format(h.Ticker), amount.Amount(1).Format(h.Ticker))
	case errors.Is(err, ledger.ErrInvalidSplit):
		inv.reply("There is nobody to send this to.")
	case errors.Is(err, reactdrop.ErrInvalidDeadline):
		inv.reply("The reactdrop has to end in the future.")
	case errors.Is(err, reactdrop.ErrInvalidTrigger):
		inv.reply("This is not a valid emoji. Please pick an emoji to start a reactdrop.")
	case errors.Is(err, amount.ErrPrecision), errors.Is(err, amount.ErrNegative), errors.Is(err, amount.ErrOverflow):
		inv.replyf("That is not a valid amount: %v.", err)
	default:
		inv.log.Error("command failed", zap.Error(err))
		inv.reply(msgInternalError)
	}
}

func (h *Handler) minTip() amount.Amount {
	if m, ok := h.Engine.(interface{ MinTip() amount.Amount }); ok {
		return m.MinTip()
	}
	return 1
}

type optionSet map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) optionSet {
	m := make(optionSet, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func stringOption(opts optionSet, name string) string {
	if o, ok := opts[name]; ok {
		if v, ok := o.Value.(string); ok {
			return v
		}
	}
	return ""
}

func numberOption(opts optionSet, name string) (float64, bool) {
	if o, ok := opts[name]; ok {
		if v, ok := o.Value.(float64); ok {
			return v, true
		}
	}
	return 0, false
}

// amountFromOption reads a coin amount given as a number option.
func amountFromOption(opts optionSet) (amount.Amount, error) {
	v, ok := numberOption(opts, "amount")
	if !ok {
		return 0, fmt.Errorf("%w: missing amount", ledger.ErrBelowMinimum)
	}
	return amount.FromCoins(v)
}
