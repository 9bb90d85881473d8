// Package scoring folds raw per-game progress into deduplicated awards.
//
// Game awards are upserted by (user, game, period) and their tier is
// monotonic non-decreasing; a strict tier increase emits exactly one
// announcement event. Manual awards are additive and bypass the dedup key.
package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cheevobot/internal/challenge"
	"cheevobot/internal/provider"
	"cheevobot/internal/storage"
	logx "cheevobot/pkg/logx"
)

// GameProgress is one (game, period) slice of a check result.
type GameProgress struct {
	Challenge challenge.Challenge
	Meta      provider.GameMeta
	Earned    map[int64]time.Time
}

// CheckResult is the poller's output for one user whose progress changed.
type CheckResult struct {
	User  string
	At    time.Time
	Games []GameProgress
}

type Scorer struct {
	store storage.Store
	log   logx.Logger

	mu     sync.Mutex
	points challenge.PointScheme
}

func New(store storage.Store, points challenge.PointScheme, log logx.Logger) *Scorer {
	if points == (challenge.PointScheme{}) {
		points = challenge.DefaultPoints()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scorer{store: store, points: points, log: log}
}

// Apply swaps the point scheme at runtime (config hot reload).
func (s *Scorer) Apply(points challenge.PointScheme) {
	if points == (challenge.PointScheme{}) {
		points = challenge.DefaultPoints()
	}
	s.mu.Lock()
	s.points = points
	s.mu.Unlock()
}

func (s *Scorer) scheme() challenge.PointScheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points
}

// ComputeTier derives the award tier from an earned set and the game's
// achievement metadata.
//
//   - MASTERED: the full achievement set is earned.
//   - BEATEN: every progression achievement earned and, when the game has
//     win-condition achievements, at least one of them earned.
//   - PARTICIPATION: at least one achievement earned.
func ComputeTier(meta provider.GameMeta, earned map[int64]time.Time) challenge.Tier {
	n := len(earned)
	if n == 0 {
		return challenge.TierNone
	}
	if meta.AchievementTotal > 0 && n >= meta.AchievementTotal {
		return challenge.TierMastered
	}
	if len(meta.ProgressionIDs) > 0 {
		beaten := true
		for _, id := range meta.ProgressionIDs {
			if _, ok := earned[id]; !ok {
				beaten = false
				break
			}
		}
		if beaten && len(meta.WinIDs) > 0 {
			beaten = false
			for _, id := range meta.WinIDs {
				if _, ok := earned[id]; ok {
					beaten = true
					break
				}
			}
		}
		if beaten {
			return challenge.TierBeaten
		}
	}
	return challenge.TierParticipation
}

// ApplyResult upserts one award per (game, period) in the result and returns
// the announcement events for strict tier advancements, in input order.
//
// A computed tier below the stored one is an anomaly (revoked achievements
// upstream): it is logged and the stored tier kept; raw progress still
// tracks the provider.
func (s *Scorer) ApplyResult(ctx context.Context, res CheckResult) ([]challenge.AnnouncementEvent, error) {
	user := challenge.CanonicalName(res.User)
	if user == "" {
		return nil, fmt.Errorf("scoring: empty user in check result")
	}
	at := res.At
	if at.IsZero() {
		at = time.Now()
	}

	// Users exist from their first observed progress.
	if err := s.store.UpsertUser(ctx, challenge.User{Name: user}); err != nil {
		return nil, fmt.Errorf("scoring: upsert user %s: %w", user, err)
	}

	scheme := s.scheme()
	var events []challenge.AnnouncementEvent

	for _, gp := range res.Games {
		computed := ComputeTier(gp.Meta, gp.Earned)
		progress := len(gp.Earned)

		prior, found, err := s.store.GetAward(ctx, user, gp.Challenge.GameID, gp.Challenge.Period)
		if err != nil {
			return events, fmt.Errorf("scoring: get award %s/%d: %w", user, gp.Challenge.GameID, err)
		}

		tier := computed
		if found {
			if computed.Less(prior.Tier) {
				s.log.Warn("tier regression observed; keeping stored tier",
					logx.String("user", user),
					logx.Int64("game", gp.Challenge.GameID),
					logx.String("stored", prior.Tier.String()),
					logx.String("computed", computed.String()))
				tier = prior.Tier
			}
			if tier == prior.Tier && progress == prior.Progress &&
				scheme.Points(tier) == prior.Points {
				continue
			}
		}
		if !found && tier == challenge.TierNone {
			// Nothing earned and nothing stored; no award row to create.
			continue
		}

		award := challenge.Award{
			User:     user,
			Kind:     challenge.KindGame,
			GameID:   gp.Challenge.GameID,
			Period:   gp.Challenge.Period,
			Tier:     tier,
			Progress: progress,
			Points:   scheme.Points(tier),
			Updated:  at,
		}
		if err := s.store.UpsertAward(ctx, award); err != nil {
			return events, fmt.Errorf("scoring: upsert award %s: %w", award.Key(), err)
		}

		oldTier := challenge.TierNone
		if found {
			oldTier = prior.Tier
		}
		if oldTier.Less(tier) {
			events = append(events, challenge.AnnouncementEvent{
				User:    user,
				GameID:  gp.Challenge.GameID,
				Title:   gp.Challenge.Title,
				OldTier: oldTier,
				NewTier: tier,
				At:      at,
			})
		}
	}
	return events, nil
}

// AddManual records a manual bonus award. Each call creates a new record;
// manual awards have no dedup key and never touch game-award tiers.
func (s *Scorer) AddManual(ctx context.Context, user string, p challenge.Period, points int, reason string) error {
	name := challenge.CanonicalName(user)
	if name == "" {
		return fmt.Errorf("scoring: empty user for manual award")
	}
	if !p.Valid() {
		return fmt.Errorf("scoring: invalid period %v", p)
	}
	if err := s.store.UpsertUser(ctx, challenge.User{Name: name}); err != nil {
		return err
	}
	return s.store.InsertManualAward(ctx, challenge.Award{
		User:   name,
		Kind:   challenge.KindManual,
		Period: p,
		Points: points,
		Reason: reason,
	})
}
