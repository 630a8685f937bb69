package dialogue

import (
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/subscriptions"
)

type summaryRow struct {
	key   string
	value string
}

// summaryTable renders the stored record and the triggers currently indexed
// for it as a preformatted table. Empty values are skipped.
func summaryTable(rec domain.Subscription, triggers subscriptions.Triggers) string {
	rows := []summaryRow{
		{"Discord handle", rec.Handle},
		{"Discord guild", formatGuild(rec.GuildID)},
		{"Discord roles", strings.Join(rec.Roles.Sorted(), ", ")},
		{"Discord channels", strings.Join(rec.Channels.Sorted(), ", ")},
	}
	if rec.Handle != "" {
		rows = append(rows, summaryRow{"Verified", yesNo(rec.Verified)})
	}
	if !rec.IsActive() {
		rows = append(rows, summaryRow{"Alerts", "paused"})
	}
	if listening := slices.Concat(triggers.Handles, triggers.Roles); len(listening) > 0 {
		rows = append(rows, summaryRow{"Listening to", strings.Join(listening, ", ")})
	}

	lines := make([]string, 0, len(rows)+2)
	width := 0
	for _, r := range rows {
		if strings.TrimSpace(r.value) == "" {
			continue
		}
		line := fmt.Sprintf("%-17s | %-20s", r.key, r.value)
		width = max(width, utf8.RuneCountInString(line))
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "<i>nothing yet</i>"
	}

	border := strings.Repeat("=", width)
	return "<pre>" + html.EscapeString(border+"\n"+strings.Join(lines, "\n")+"\n"+border) + "</pre>"
}

func formatGuild(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func hasData(rec domain.Subscription) bool {
	return rec.Handle != "" || rec.Roles.Len() > 0 || rec.Channels.Len() > 0
}
