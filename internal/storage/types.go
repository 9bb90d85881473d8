package storage

import (
	"context"
	"errors"
	"time"

	"cheevobot/internal/challenge"
)

var (
	ErrClosed = errors.New("storage closed")
	// ErrNotGameAward is returned when a manual award is passed to the
	// game-award upsert path (or the reverse). The two paths have different
	// dedup semantics and must not be mixed.
	ErrNotGameAward = errors.New("award kind mismatch")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the pipeline, scorer, and ranker.
type Store interface {
	UpsertUser(ctx context.Context, u challenge.User) error
	GetUser(ctx context.Context, name string) (challenge.User, bool, error)
	ListUsers(ctx context.Context) ([]challenge.User, error)

	UpsertChallenge(ctx context.Context, c challenge.Challenge) error
	ChallengeByGame(ctx context.Context, gameID int64, p challenge.Period) (challenge.Challenge, bool, error)
	ChallengesForPeriod(ctx context.Context, p challenge.Period) ([]challenge.Challenge, error)

	GetAward(ctx context.Context, user string, gameID int64, p challenge.Period) (challenge.Award, bool, error)
	// UpsertAward writes a game award keyed (user, game, period) atomically.
	// At most one row ever exists per key.
	UpsertAward(ctx context.Context, a challenge.Award) error
	// InsertManualAward always creates a new row; manual awards are additive.
	InsertManualAward(ctx context.Context, a challenge.Award) error
	AwardsForGame(ctx context.Context, gameID int64, p challenge.Period) ([]challenge.Award, error)
	AwardsForYear(ctx context.Context, year int) ([]challenge.Award, error)
	AwardsForUser(ctx context.Context, user string, year int) ([]challenge.Award, error)

	Close() error
}
