package commands

import (
	"strings"

	"go.uber.org/zap"
)

const (
	msgChainUnavailable = "Chain information is not available right now."
	msgPeersUnavailable = "Peer information is not available right now."
)

// Wallet failures, including an open circuit, are answered with a plain
// unavailability message. The wallet error itself only goes to the log.
func (h *Handler) handleChainInfo(inv *invocation) {
	if h.Chain == nil || !h.Chain.Configured() {
		inv.reply("Chain information is not available.")
		return
	}
	inv.deferReply()

	bi, err := h.Chain.BlockchainInfo(inv.ctx)
	if err != nil {
		inv.log.Warn("load blockchain info", zap.Error(err))
		inv.reply(msgChainUnavailable)
		return
	}
	mi, err := h.Chain.MiningInfo(inv.ctx)
	if err != nil {
		inv.log.Warn("load mining info", zap.Error(err))
		inv.reply(msgChainUnavailable)
		return
	}

	inv.replyf("**%s info**\nheight: %d\ndifficulty: %.2f\namount staking: %s\naverage block fees: %s",
		h.Ticker, bi.Blocks, bi.Difficulty,
		mi.StakingSupply.Format(h.Ticker), mi.AverageBlockFees.Format(h.Ticker))
}

func (h *Handler) handlePeerInfo(inv *invocation) {
	if h.Chain == nil || !h.Chain.Configured() {
		inv.reply("Peer information is not available.")
		return
	}
	inv.deferReply()

	peers, err := h.Chain.OutboundPeers(inv.ctx)
	if err != nil {
		inv.log.Warn("load peer info", zap.Error(err))
		inv.reply(msgPeersUnavailable)
		return
	}
	if len(peers) == 0 {
		inv.reply("The wallet has no outbound peers right now.")
		return
	}
	inv.replyf("Publicly available peers:```%s```", strings.Join(peers, "\n"))
}
