package notify

import (
	"fmt"
	"strings"

	"github.com/susu3304/tipbot/internal/ledger"
)

// maxListed caps how many recipients one public message names.
const maxListed = 25

func mention(userID string) string {
	return "<@" + userID + ">"
}

// publicMessage renders the channel announcement for a settlement.
func publicMessage(s *ledger.Settlement, ticker string) string {
	moved := s.Moved.Format(ticker)
	share := s.Share.Format(ticker)

	switch s.Kind {
	case ledger.KindDirect:
		if len(s.Destinations) == 1 {
			return fmt.Sprintf("%s just tipped %s %s!", mention(s.Source), mention(s.Destinations[0]), moved)
		}
	case ledger.KindReactdrop:
		return fmt.Sprintf("The reactdrop by %s has ended! %s was split among %d users, %s each: %s",
			mention(s.Source), moved, len(s.Destinations), share, recipientList(s.Destinations))
	}
	return fmt.Sprintf("%s just tipped %s to %d users! Each received %s: %s",
		mention(s.Source), moved, len(s.Destinations), share, recipientList(s.Destinations))
}

func directMessage(s *ledger.Settlement, ticker string) string {
	if s.Kind == ledger.KindReactdrop {
		return fmt.Sprintf("You just got %s from the reactdrop by %s!", s.Share.Format(ticker), mention(s.Source))
	}
	return fmt.Sprintf("You just got tipped %s from %s!", s.Share.Format(ticker), mention(s.Source))
}

func recipientList(ids []string) string {
	listed := ids
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	parts := make([]string, 0, len(listed))
	for _, id := range listed {
		parts = append(parts, mention(id))
	}
	out := strings.Join(parts, ", ")
	if rest := len(ids) - len(listed); rest > 0 {
		out += fmt.Sprintf(" and %d more", rest)
	}
	return out
}

// listed reports the recipients named in the public message.
func listed(ids []string) []string {
	if len(ids) > maxListed {
		return ids[:maxListed]
	}
	return ids
}
