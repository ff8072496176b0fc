package commands

import (
	"fmt"
	"strings"

	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/notify"
)

const historyLimit = 10

func (h *Handler) handleBalance(inv *invocation) {
	balance, committed, err := h.Accounts.Available(inv.ctx, inv.userID)
	if err != nil {
		h.fail(inv, err)
		return
	}
	if committed.IsZero() {
		inv.replyf("Your balance is %s.", balance.Format(h.Ticker))
		return
	}
	inv.replyf("Your balance is %s.\nReserved for open reactdrops: %s\nAvailable: %s",
		balance.Format(h.Ticker), committed.Format(h.Ticker), (balance - committed).Format(h.Ticker))
}

func (h *Handler) handleNotifications(inv *invocation) {
	opts := optionMap(inv.data.Options)
	pref, err := notify.ParsePreference(stringOption(opts, "setting"))
	if err != nil {
		inv.reply("Pick one of the listed settings.")
		return
	}
	if err := h.Accounts.SetNotificationPreference(inv.ctx, inv.userID, pref); err != nil {
		h.fail(inv, err)
		return
	}
	inv.replyf("Notifications set to %s.", pref.Label())
}

func (h *Handler) handleHistory(inv *invocation) {
	entries, err := h.Accounts.Entries(inv.ctx, inv.userID, historyLimit)
	if err != nil {
		h.fail(inv, err)
		return
	}
	if len(entries) == 0 {
		inv.reply("You haven't sent or received any tips yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Your latest tips:\n")
	for _, e := range entries {
		b.WriteString(h.historyLine(inv.userID, e))
		b.WriteByte('\n')
	}
	inv.reply(b.String())
}

func (h *Handler) historyLine(userID string, e ledger.Entry) string {
	when := fmt.Sprintf("<t:%d:d>", e.CreatedAt.Unix())
	if e.Source == userID {
		return fmt.Sprintf("%s sent %s to <@%s> (%s)", when, e.Amount.Format(h.Ticker), e.Destination, e.Kind)
	}
	return fmt.Sprintf("%s received %s from <@%s> (%s)", when, e.Amount.Format(h.Ticker), e.Source, e.Kind)
}
