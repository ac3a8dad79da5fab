package helpers

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// DisplayName returns a human-readable name for a Telegram user,
// preferring the full name, then username, then the numeric ID.
func DisplayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}
