package provider

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("provider unavailable")

// GameMeta describes one game's achievement set.
type GameMeta struct {
	GameID           int64
	Title            string
	AchievementTotal int
	// ProgressionIDs are the achievements required to beat the game.
	ProgressionIDs []int64
	// WinIDs are the win-condition achievements; earning any one of them
	// (with the progression set complete) counts as beaten.
	WinIDs []int64
}

// UserProgress is one user's earned set for one game.
type UserProgress struct {
	GameID int64
	User   string
	Earned map[int64]time.Time // achievement id -> earned at
}

// RecentPlayer is an entry of the provider's recent-activity feed.
type RecentPlayer struct {
	User       string
	LastPlayed time.Time
}

// Client is the achievement-provider boundary consumed by the pipeline.
// Calls are time-bounded; any failure means "no update this cycle" for the
// affected user/game.
type Client interface {
	GameMeta(ctx context.Context, gameID int64) (GameMeta, error)
	UserProgress(ctx context.Context, user string, gameID int64) (UserProgress, error)
	RecentlyActive(ctx context.Context, since time.Time) ([]RecentPlayer, error)
}
