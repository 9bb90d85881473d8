package telegram

import (
	"fmt"
	"strings"

	"cheevobot/internal/challenge"
	"cheevobot/internal/ranking"
)

func tierBadge(t challenge.Tier) string {
	switch t {
	case challenge.TierParticipation:
		return "🎮"
	case challenge.TierBeaten:
		return "⭐"
	case challenge.TierMastered:
		return "🏆"
	default:
		return ""
	}
}

func formatAnnouncement(ev challenge.AnnouncementEvent) string {
	title := ev.Title
	if title == "" {
		title = fmt.Sprintf("game #%d", ev.GameID)
	}
	switch ev.NewTier {
	case challenge.TierMastered:
		return fmt.Sprintf("🏆 %s has MASTERED %s!", ev.User, title)
	case challenge.TierBeaten:
		return fmt.Sprintf("⭐ %s has beaten %s!", ev.User, title)
	default:
		return fmt.Sprintf("🎮 %s joined the challenge for %s", ev.User, title)
	}
}

func formatBoard(header, unit string, entries []ranking.Entry) string {
	if len(entries) == 0 {
		return header + "\nno entries yet"
	}
	var b strings.Builder
	b.WriteString(header)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%2d. %s — %d %s", e.Rank, e.User, e.Metric, unit)
	}
	return b.String()
}
