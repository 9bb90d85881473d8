package challenge

import "fmt"

// Tier is the award level for a single (user, game, period). It is a closed,
// totally ordered enum; comparisons go through Less/AtLeast so the
// no-regression rule has a single choke point.
type Tier int

const (
	TierNone Tier = iota
	TierParticipation
	TierBeaten
	TierMastered
)

func (t Tier) Valid() bool { return t >= TierNone && t <= TierMastered }

func (t Tier) Less(other Tier) bool    { return t < other }
func (t Tier) AtLeast(other Tier) bool { return t >= other }

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierParticipation:
		return "participation"
	case TierBeaten:
		return "beaten"
	case TierMastered:
		return "mastered"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps a stored string back to a Tier. Unknown values come back
// as TierNone with ok=false so callers can flag corrupt rows.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "none", "":
		return TierNone, s == "none" || s == ""
	case "participation":
		return TierParticipation, true
	case "beaten":
		return TierBeaten, true
	case "mastered":
		return TierMastered, true
	default:
		return TierNone, false
	}
}

// PointScheme maps tiers to cumulative point values. Values apply uniformly
// to per-user totals and yearly leaderboard scoring.
type PointScheme struct {
	Participation int
	Beaten        int
	Mastered      int
}

// DefaultPoints is the scheme used when config leaves points unset.
func DefaultPoints() PointScheme {
	return PointScheme{Participation: 1, Beaten: 4, Mastered: 7}
}

func (p PointScheme) Points(t Tier) int {
	switch t {
	case TierParticipation:
		return p.Participation
	case TierBeaten:
		return p.Beaten
	case TierMastered:
		return p.Mastered
	default:
		return 0
	}
}
