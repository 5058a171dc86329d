package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// uniqueMarker prefixes data produced by telebot's markup.Data helpers.
const uniqueMarker = "\f"

// Split returns the unique key and payload of a callback.
// Raw button data (no unique marker) comes back as payload with an empty key.
func Split(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := cb.Data
	if !strings.HasPrefix(raw, uniqueMarker) {
		return "", raw
	}
	raw = strings.TrimPrefix(raw, uniqueMarker)
	key, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(key), payload
}

// Data returns what a conversation button carries. Keyboards rendered by this
// bot send raw data, but telebot-style "\f<unique>|<payload>" is folded back
// into "<unique>_<payload>" so either form reaches the dispatcher.
func Data(cb *tele.Callback) string {
	key, payload := Split(cb)
	switch {
	case key == "":
		return payload
	case payload == "":
		return key
	default:
		return key + "_" + payload
	}
}
