package routing

import "strings"

// Peer kinds recognised in session keys.
const (
	PeerDM      = "dm"
	PeerGroup   = "group"
	PeerChannel = "channel"
)

// SessionAttrs are the routable attributes encoded in a session key.
// Parts missing from the key are left empty.
type SessionAttrs struct {
	Channel   string
	AccountID string
	PeerKind  string
	PeerID    string
	GuildID   string
}

// ParseSessionKey splits a session key into routable attributes.
//
// Accepted shapes (an optional "agent:<id>:" prefix is stripped first):
//
//	<channel>:<account>:<peer>
//	<channel>:<account>:<kind>:<peer>
//	<channel>:<account>:guild:<guild>:<peer...>
//	<channel>:<account>:guild:<guild>:<kind>:<peer>
//
// Subagent suffixes (":subagent:<id>") are ignored so a child run routes
// like its parent.
func ParseSessionKey(key string) SessionAttrs {
	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "agent:"); ok {
		if _, after, found := strings.Cut(rest, ":"); found {
			key = after
		} else {
			key = ""
		}
	}
	if i := strings.Index(key, ":subagent:"); i >= 0 {
		key = key[:i]
	}

	parts := strings.Split(key, ":")
	var attrs SessionAttrs
	if len(parts) > 0 {
		attrs.Channel = parts[0]
	}
	if len(parts) > 1 {
		attrs.AccountID = parts[1]
	}
	rest := parts[min(2, len(parts)):]

	if len(rest) >= 2 && rest[0] == "guild" {
		attrs.GuildID = rest[1]
		rest = rest[2:]
	}

	switch {
	case len(rest) == 0:
	case len(rest) >= 2 && isPeerKind(rest[0]):
		attrs.PeerKind = rest[0]
		attrs.PeerID = strings.Join(rest[1:], ":")
	default:
		if attrs.GuildID != "" {
			attrs.PeerKind = PeerChannel
		} else {
			attrs.PeerKind = PeerDM
		}
		attrs.PeerID = strings.Join(rest, ":")
	}
	return attrs
}

func isPeerKind(s string) bool {
	switch s {
	case PeerDM, PeerGroup, PeerChannel:
		return true
	}
	return false
}
