package pipeline

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"cheevobot/internal/challenge"
	"cheevobot/internal/scoring"
)

// CheckCache remembers, per user, when they were last checked and the
// signature of the progress seen then. Purely in-memory: a cold restart
// means every user looks unseen on the first tick.
type CheckCache struct {
	mu sync.Mutex
	m  map[string]cacheEntry
}

type cacheEntry struct {
	lastCheck time.Time
	sig       uint64
	hasSig    bool
}

func NewCheckCache() *CheckCache {
	return &CheckCache{m: map[string]cacheEntry{}}
}

func (c *CheckCache) lookup(user string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[challenge.CanonicalName(user)]
	return e, ok
}

// Touch refreshes the last-check timestamp, keeping the stored signature.
func (c *CheckCache) Touch(user string, now time.Time) {
	name := challenge.CanonicalName(user)
	c.mu.Lock()
	e := c.m[name]
	e.lastCheck = now
	c.m[name] = e
	c.mu.Unlock()
}

// Put records a completed check with its progress signature.
func (c *CheckCache) Put(user string, now time.Time, sig uint64) {
	c.mu.Lock()
	c.m[challenge.CanonicalName(user)] = cacheEntry{lastCheck: now, sig: sig, hasSig: true}
	c.mu.Unlock()
}

// Clear wipes the cache; the next tick re-checks everyone.
func (c *CheckCache) Clear() {
	c.mu.Lock()
	c.m = map[string]cacheEntry{}
	c.mu.Unlock()
}

func (c *CheckCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// progressSignature hashes a user's earned sets across all checked games.
// Input ordering does not matter: games and achievement ids are hashed in
// sorted order.
func progressSignature(games []scoring.GameProgress) uint64 {
	idx := make([]int, len(games))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return games[idx[a]].Challenge.GameID < games[idx[b]].Challenge.GameID
	})

	h := fnv.New64a()
	for _, i := range idx {
		gp := games[i]
		_, _ = h.Write([]byte("g" + strconv.FormatInt(gp.Challenge.GameID, 10) + ":"))
		ids := make([]int64, 0, len(gp.Earned))
		for id := range gp.Earned {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		for _, id := range ids {
			_, _ = h.Write([]byte(strconv.FormatInt(id, 10) + ","))
		}
	}
	return h.Sum64()
}
