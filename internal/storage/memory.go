package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cheevobot/internal/challenge"
)

// Memory is a map-backed Store. It preserves insert order for awards so
// tie-stability behaves the same as the sqlite backend (ORDER BY id).
type Memory struct {
	mu         sync.Mutex
	closed     bool
	users      map[string]challenge.User
	challenges map[challengeKey]challenge.Challenge
	awards     []challenge.Award
	nextID     int64
}

type challengeKey struct {
	gameID int64
	month  time.Month
	year   int
}

func NewMemory() *Memory {
	return &Memory{
		users:      map[string]challenge.User{},
		challenges: map[challengeKey]challenge.Challenge{},
		nextID:     1,
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) UpsertUser(_ context.Context, u challenge.User) error {
	name := challenge.CanonicalName(u.Name)
	if name == "" {
		return errors.New("empty username")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.users[name]; !ok {
		created := u.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		m.users[name] = challenge.User{Name: name, CreatedAt: created}
	}
	return nil
}

func (m *Memory) GetUser(_ context.Context, name string) (challenge.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return challenge.User{}, false, ErrClosed
	}
	u, ok := m.users[challenge.CanonicalName(name)]
	return u, ok, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]challenge.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]challenge.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpsertChallenge(_ context.Context, c challenge.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.challenges[challengeKey{c.GameID, c.Period.Month, c.Period.Year}] = c
	return nil
}

func (m *Memory) ChallengeByGame(_ context.Context, gameID int64, p challenge.Period) (challenge.Challenge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return challenge.Challenge{}, false, ErrClosed
	}
	c, ok := m.challenges[challengeKey{gameID, p.Month, p.Year}]
	return c, ok, nil
}

func (m *Memory) ChallengesForPeriod(_ context.Context, p challenge.Period) ([]challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []challenge.Challenge
	for k, c := range m.challenges {
		if k.month == p.Month && k.year == p.Year {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].GameID < out[j].GameID
	})
	return out, nil
}

func (m *Memory) GetAward(_ context.Context, user string, gameID int64, p challenge.Period) (challenge.Award, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return challenge.Award{}, false, ErrClosed
	}
	name := challenge.CanonicalName(user)
	for _, a := range m.awards {
		if a.Kind == challenge.KindGame && a.User == name && a.GameID == gameID && a.Period == p {
			return a, true, nil
		}
	}
	return challenge.Award{}, false, nil
}

func (m *Memory) UpsertAward(_ context.Context, a challenge.Award) error {
	if a.Kind != challenge.KindGame {
		return ErrNotGameAward
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	a.User = challenge.CanonicalName(a.User)
	if a.Updated.IsZero() {
		a.Updated = time.Now()
	}
	for i := range m.awards {
		ex := &m.awards[i]
		if ex.Kind == challenge.KindGame && ex.User == a.User && ex.GameID == a.GameID && ex.Period == a.Period {
			a.ID = ex.ID
			*ex = a
			return nil
		}
	}
	a.ID = m.nextID
	m.nextID++
	m.awards = append(m.awards, a)
	return nil
}

func (m *Memory) InsertManualAward(_ context.Context, a challenge.Award) error {
	if a.Kind != challenge.KindManual {
		return ErrNotGameAward
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	a.User = challenge.CanonicalName(a.User)
	a.GameID = 0
	a.Tier = challenge.TierNone
	a.Progress = 0
	if a.Updated.IsZero() {
		a.Updated = time.Now()
	}
	a.ID = m.nextID
	m.nextID++
	m.awards = append(m.awards, a)
	return nil
}

func (m *Memory) AwardsForGame(_ context.Context, gameID int64, p challenge.Period) ([]challenge.Award, error) {
	return m.filterAwards(func(a challenge.Award) bool {
		return a.Kind == challenge.KindGame && a.GameID == gameID && a.Period == p
	})
}

func (m *Memory) AwardsForYear(_ context.Context, year int) ([]challenge.Award, error) {
	return m.filterAwards(func(a challenge.Award) bool { return a.Period.Year == year })
}

func (m *Memory) AwardsForUser(_ context.Context, user string, year int) ([]challenge.Award, error) {
	name := challenge.CanonicalName(user)
	return m.filterAwards(func(a challenge.Award) bool {
		return a.User == name && a.Period.Year == year
	})
}

func (m *Memory) filterAwards(keep func(challenge.Award) bool) ([]challenge.Award, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []challenge.Award
	for _, a := range m.awards {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}
