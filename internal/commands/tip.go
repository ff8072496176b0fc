package commands

import (
	"github.com/susu3304/tipbot/internal/ledger"
)

func (h *Handler) handleTip(inv *invocation) {
	if len(inv.data.Options) == 0 {
		inv.reply("Pick `/tip user` or `/tip role`.")
		return
	}
	sub := inv.data.Options[0]
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "user":
		h.tipUser(inv, opts)
	case "role":
		h.tipRole(inv, opts)
	default:
		inv.reply("Pick `/tip user` or `/tip role`.")
	}
}

func (h *Handler) tipUser(inv *invocation, opts optionSet) {
	target := stringOption(opts, "user")
	if target == "" {
		inv.reply("Pick the user you want to tip.")
		return
	}
	if target == inv.userID {
		inv.reply("You can't tip yourself.")
		return
	}
	if r := inv.data.Resolved; r != nil {
		if u, ok := r.Users[target]; ok && u.Bot {
			inv.reply("Bots can't receive tips.")
			return
		}
	}

	amt, err := amountFromOption(opts)
	if err != nil {
		h.fail(inv, err)
		return
	}

	s, err := h.Engine.ExecuteTransfer(inv.ctx, ledger.Intent{
		Source:       inv.userID,
		Destinations: []string{target},
		Amount:       amt,
		Kind:         ledger.KindDirect,
	})
	if err != nil {
		h.fail(inv, err)
		return
	}

	h.Notifier.DispatchAsync(s, inv.i.ChannelID)
	inv.replyf("You tipped <@%s> %s.", target, s.Moved.Format(h.Ticker))
}

func (h *Handler) tipRole(inv *invocation, opts optionSet) {
	if inv.i.GuildID == "" {
		inv.reply("You need to be in a Discord server to use this command.")
		return
	}
	roleID := stringOption(opts, "role")
	if roleID == "" {
		inv.reply("Pick the role you want to tip.")
		return
	}
	amt, err := amountFromOption(opts)
	if err != nil {
		h.fail(inv, err)
		return
	}

	inv.deferReply()

	members, err := h.Platform.ResolveRoleMembers(inv.ctx, inv.i.GuildID, roleID)
	if err != nil {
		h.fail(inv, err)
		return
	}
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != inv.userID {
			recipients = append(recipients, m)
		}
	}
	if len(recipients) == 0 {
		inv.reply("Nobody else has that role, so nothing was sent.")
		return
	}

	s, err := h.Engine.ExecuteTransfer(inv.ctx, ledger.Intent{
		Source:       inv.userID,
		Destinations: recipients,
		Amount:       amt,
		Kind:         ledger.KindRole,
	})
	if err != nil {
		h.fail(inv, err)
		return
	}

	h.Notifier.DispatchAsync(s, inv.i.ChannelID)
	if rem := s.Remainder(); !rem.IsZero() {
		inv.replyf("You asked to tip %s. %d members received %s each, so %s was sent and %s stayed with you.",
			s.Requested.Format(h.Ticker), len(s.Destinations), s.Share.Format(h.Ticker),
			s.Moved.Format(h.Ticker), rem.Format(h.Ticker))
		return
	}
	inv.replyf("You tipped %s to %d members, %s each.",
		s.Moved.Format(h.Ticker), len(s.Destinations), s.Share.Format(h.Ticker))
}
