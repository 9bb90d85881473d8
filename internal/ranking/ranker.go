// Package ranking builds tie-aware leaderboards from stored awards.
package ranking

import (
	"context"
	"sort"

	"cheevobot/internal/challenge"
	"cheevobot/internal/storage"
)

// Entry is one leaderboard row. Metric is the achievement count for monthly
// boards and the point total for yearly boards.
type Entry struct {
	Rank   int
	User   string
	Metric int
}

type Ranker struct {
	store storage.Store
}

func New(store storage.Store) *Ranker {
	return &Ranker{store: store}
}

// Monthly ranks all users with progress > 0 on a game's challenge,
// descending by raw achievement count.
func (r *Ranker) Monthly(ctx context.Context, gameID int64, p challenge.Period) ([]Entry, error) {
	awards, err := r.store.AwardsForGame(ctx, gameID, p)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(awards))
	for _, a := range awards {
		if a.Progress > 0 {
			entries = append(entries, Entry{User: a.User, Metric: a.Progress})
		}
	}
	rank(entries)
	return entries, nil
}

// Yearly aggregates each user's tier points across the year's game awards
// (one row per (game, period), the store's dedup key guarantees no double
// counting) plus all manual awards, and ranks users with total > 0.
//
// Ties carry no secondary tiebreaker: equally scored users keep the order in
// which they first appear in the award log.
func (r *Ranker) Yearly(ctx context.Context, year int) ([]Entry, error) {
	awards, err := r.store.AwardsForYear(ctx, year)
	if err != nil {
		return nil, err
	}

	totals := map[string]int{}
	var order []string
	for _, a := range awards {
		if _, seen := totals[a.User]; !seen {
			order = append(order, a.User)
		}
		totals[a.User] += a.Points
	}

	entries := make([]Entry, 0, len(order))
	for _, user := range order {
		if totals[user] > 0 {
			entries = append(entries, Entry{User: user, Metric: totals[user]})
		}
	}
	rank(entries)
	return entries, nil
}

// UserTotal returns one user's deduplicated point total for a year.
func (r *Ranker) UserTotal(ctx context.Context, user string, year int) (int, error) {
	awards, err := r.store.AwardsForUser(ctx, user, year)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, a := range awards {
		total += a.Points
	}
	return total, nil
}

// rank sorts entries descending by metric (stable, so equal scores keep
// their insertion order) and assigns standard competition ranks: equal
// scores share a rank, and the rank after a tie block jumps by its size.
func rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Metric > entries[j].Metric
	})
	for i := range entries {
		if i > 0 && entries[i].Metric == entries[i-1].Metric {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
