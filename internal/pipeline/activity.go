package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"cheevobot/internal/challenge"
	logx "cheevobot/pkg/logx"
)

// ActiveSet holds the users currently classified ACTIVE. Readers see a
// point-in-time snapshot; Replace swaps the whole set atomically so a
// half-updated set is never observable.
type ActiveSet struct {
	v atomic.Value // stores map[string]struct{}
}

func NewActiveSet() *ActiveSet {
	s := &ActiveSet{}
	s.v.Store(map[string]struct{}{})
	return s
}

func (s *ActiveSet) Contains(user string) bool {
	m := s.v.Load().(map[string]struct{})
	_, ok := m[challenge.CanonicalName(user)]
	return ok
}

func (s *ActiveSet) Len() int {
	return len(s.v.Load().(map[string]struct{}))
}

func (s *ActiveSet) Replace(users []string) {
	m := make(map[string]struct{}, len(users))
	for _, u := range users {
		if name := challenge.CanonicalName(u); name != "" {
			m[name] = struct{}{}
		}
	}
	s.v.Store(m)
}

// RefreshActivity recomputes the ACTIVE set from the provider's recent
// activity feed. On a fetch failure the previous set is retained unchanged.
func (p *Pipeline) RefreshActivity(ctx context.Context, now time.Time) error {
	cfg := p.config()
	cctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	players, err := p.provider.RecentlyActive(cctx, now.Add(-cfg.ActiveWindow))
	cancel()
	if err != nil {
		p.log.Warn("activity refresh failed; keeping previous active set",
			logx.Err(err), logx.Int("active", p.active.Len()))
		return err
	}

	names := make([]string, 0, len(players))
	cutoff := now.Add(-cfg.ActiveWindow)
	for _, pl := range players {
		if pl.LastPlayed.Before(cutoff) {
			continue
		}
		names = append(names, pl.User)
	}
	p.active.Replace(names)
	p.log.Debug("active set refreshed", logx.Int("active", len(names)))
	return nil
}
