package challenge

import (
	"fmt"
	"strings"
	"time"
)

// Period is a (month, year) scoring window.
type Period struct {
	Month time.Month
	Year  int
}

func PeriodOf(t time.Time) Period {
	return Period{Month: t.Month(), Year: t.Year()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) Valid() bool {
	return p.Month >= time.January && p.Month <= time.December && p.Year > 0
}

// ChallengeType distinguishes the headline monthly game from side games.
type ChallengeType string

const (
	TypePrimary   ChallengeType = "primary"
	TypeSecondary ChallengeType = "secondary"
)

// Challenge is one game tracked for one period. Immutable once scoring has
// started for that period, except for achievement-total corrections.
type Challenge struct {
	GameID           int64
	Title            string
	Period           Period
	Type             ChallengeType
	AchievementTotal int
}

// User is a tracked community member. Usernames are canonical (lower-cased)
// and unique; users are created on first observed progress and never
// hard-deleted.
type User struct {
	Name      string
	CreatedAt time.Time
}

// CanonicalName normalizes a provider username for use as a store key.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AwardKind separates scored game awards from manual bonus awards.
type AwardKind string

const (
	KindGame   AwardKind = "game"
	KindManual AwardKind = "manual"
)

// Award is the deduplicated scoring unit. Game awards are keyed
// (user, game, period) and upserted; manual awards are always additive.
type Award struct {
	ID       int64
	User     string
	Kind     AwardKind
	GameID   int64 // zero for manual awards
	Period   Period
	Tier     Tier
	Progress int // achievements earned; zero for manual awards
	Points   int
	Reason   string // manual awards only
	Updated  time.Time
}

// Key identifies the dedup slot for a game award.
func (a Award) Key() string {
	return fmt.Sprintf("%s|%d|%s", a.User, a.GameID, a.Period)
}

// AnnouncementEvent records a strict tier advancement for downstream
// notification. Events are delivered in FIFO order, at most once.
type AnnouncementEvent struct {
	User    string
	GameID  int64
	Title   string
	OldTier Tier
	NewTier Tier
	At      time.Time
}
