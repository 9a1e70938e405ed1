package notify

import (
	"fmt"
	"regexp"
	"strings"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"
)

const sessionMarkerPrefix = "#session:"

// sessionMarker matches a whole line.
var sessionMarker = regexp.MustCompile(`^#session:(\S+)$`)

// SessionMarker tags operator notifications so replies can be routed back. It is
// always the last line of a notification.
func SessionMarker(sessionID string) string {
	return sessionMarkerPrefix + sessionID
}

// ExtractSessionID reads the marker from the last line of a notification text.
// Markers anywhere else are visitor input and are ignored.
func ExtractSessionID(text string) (string, bool) {
	text = strings.TrimSpace(text)
	last := text[strings.LastIndex(text, "\n")+1:]
	m := sessionMarker.FindStringSubmatch(strings.TrimSpace(last))
	if m == nil || !chat.ValidSessionID(m[1]) {
		return "", false
	}
	return m[1], true
}

func describeUser(u *domain.UserInfo) string {
	if u == nil {
		return "anonymous visitor"
	}
	var parts []string
	if u.Name != "" {
		parts = append(parts, u.Name)
	}
	if u.Email != "" {
		parts = append(parts, u.Email)
	}
	if u.Phone != "" {
		parts = append(parts, u.Phone)
	}
	if len(parts) == 0 {
		return "anonymous visitor"
	}
	return strings.Join(parts, ", ")
}

// PlainText renders an event for chat-ops channels.
func PlainText(event domain.NotificationEvent) string {
	return fmt.Sprintf("New chat message from %s\n\n%s\n\n%s",
		describeUser(event.User), event.Text, SessionMarker(event.SessionID))
}

func subject(event domain.NotificationEvent) string {
	return fmt.Sprintf("New chat message (%s)", describeUser(event.User))
}
