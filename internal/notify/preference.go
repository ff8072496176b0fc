// Package notify delivers post-settlement notices to tip recipients according
// to each recipient's notification preference.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPreference = errors.New("invalid notification preference")

// Preference is a recipient's notification setting. The zero value means the
// recipient never chose one.
type Preference string

const (
	PreferenceUnset       Preference = ""
	PreferenceAll         Preference = "all"
	PreferenceChannelOnly Preference = "channel"
	PreferenceDMOnly      Preference = "dm"
	PreferenceOff         Preference = "off"
)

// Preferences lists the settings a user can pick.
var Preferences = []Preference{PreferenceAll, PreferenceChannelOnly, PreferenceDMOnly, PreferenceOff}

func ParsePreference(raw string) (Preference, error) {
	p := Preference(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PreferenceAll, PreferenceChannelOnly, PreferenceDMOnly, PreferenceOff:
		return p, nil
	case "channelonly", "channel_only":
		return PreferenceChannelOnly, nil
	case "dmonly", "dm_only":
		return PreferenceDMOnly, nil
	}
	return PreferenceUnset, fmt.Errorf("%w: %q", ErrInvalidPreference, raw)
}

// Label is the human readable form used in command replies.
func (p Preference) Label() string {
	switch p {
	case PreferenceAll:
		return "channel mention and direct message"
	case PreferenceChannelOnly:
		return "channel mention only"
	case PreferenceDMOnly:
		return "direct message only"
	case PreferenceOff:
		return "off"
	default:
		return "default (channel mention only)"
	}
}

// Delivery says how one recipient is told about a tip.
type Delivery struct {
	Mention bool
	Direct  bool
}

// Plan maps a preference to its delivery. An unset preference behaves like
// channel only.
func Plan(p Preference) Delivery {
	switch p {
	case PreferenceAll:
		return Delivery{Mention: true, Direct: true}
	case PreferenceDMOnly:
		return Delivery{Mention: false, Direct: true}
	case PreferenceOff:
		return Delivery{}
	case PreferenceChannelOnly, PreferenceUnset:
		return Delivery{Mention: true}
	default:
		return Delivery{Mention: true}
	}
}

// PreferenceStore loads preferences for many users in one call. Users without
// a stored preference may be absent from the result.
type PreferenceStore interface {
	NotificationPreferences(ctx context.Context, userIDs []string) (map[string]Preference, error)
}

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	// SendChannelMessage posts content publicly. Only users in ping are
	// notified by their mention.
	SendChannelMessage(ctx context.Context, channelID, content string, ping []string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
}
