package httpapi

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentworkforce/mirrorrelay/internal/relay"
)

// parseChatUpdate extracts the fields the relay acts on from a raw chat
// platform update. It reports false for updates that carry nothing to
// handle, such as stickers or edits.
func parseChatUpdate(body []byte) (relay.Update, bool) {
	if cb := gjson.GetBytes(body, "callback_query"); cb.Exists() {
		chatID := cb.Get("message.chat.id").String()
		data := strings.TrimSpace(cb.Get("data").String())
		if chatID == "" || data == "" {
			return relay.Update{}, false
		}
		return relay.Update{
			Kind:       relay.KindCallback,
			ChatID:     chatID,
			Text:       data,
			CallbackID: cb.Get("id").String(),
		}, true
	}

	msg := gjson.GetBytes(body, "message")
	if !msg.Exists() {
		return relay.Update{}, false
	}
	text := strings.TrimSpace(msg.Get("text").String())
	chatID := msg.Get("chat.id").String()
	if text == "" || chatID == "" {
		return relay.Update{}, false
	}
	return relay.Update{
		Kind:   relay.KindCommand,
		ChatID: chatID,
		Text:   text,
	}, true
}

func isDriveChange(resourceState string) bool {
	switch strings.ToLower(strings.TrimSpace(resourceState)) {
	case "change", "update":
		return true
	default:
		return false
	}
}
