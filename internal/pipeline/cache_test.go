package pipeline

import (
	"testing"
	"time"

	"cheevobot/internal/challenge"
	"cheevobot/internal/scoring"
)

func games(gameID int64, ids ...int64) []scoring.GameProgress {
	earned := make(map[int64]time.Time, len(ids))
	for _, id := range ids {
		earned[id] = tickTime
	}
	return []scoring.GameProgress{{
		Challenge: challenge.Challenge{GameID: gameID, Period: period},
		Earned:    earned,
	}}
}

func TestProgressSignature(t *testing.T) {
	t.Parallel()
	a := progressSignature(games(77, 1, 2, 3))
	b := progressSignature(games(77, 3, 2, 1))
	if a != b {
		t.Fatal("signature must be order-independent")
	}
	if a == progressSignature(games(77, 1, 2)) {
		t.Fatal("different earned sets must differ")
	}
	if a == progressSignature(games(78, 1, 2, 3)) {
		t.Fatal("different games must differ")
	}

	multi := append(games(77, 1, 2), games(78, 5)...)
	multiRev := append(games(78, 5), games(77, 1, 2)...)
	if progressSignature(multi) != progressSignature(multiRev) {
		t.Fatal("game ordering must not matter")
	}
}

func TestCheckCache(t *testing.T) {
	t.Parallel()
	c := NewCheckCache()
	now := tickTime

	if _, ok := c.lookup("alice"); ok {
		t.Fatal("empty cache should miss")
	}

	c.Put("Alice", now, 42)
	e, ok := c.lookup("ALICE")
	if !ok || e.sig != 42 || !e.hasSig || !e.lastCheck.Equal(now) {
		t.Fatalf("entry = %+v, ok=%v", e, ok)
	}

	// Touch refreshes the timestamp but keeps the signature.
	later := now.Add(time.Minute)
	c.Touch("alice", later)
	e, _ = c.lookup("alice")
	if !e.lastCheck.Equal(later) || e.sig != 42 {
		t.Fatalf("touch lost state: %+v", e)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatal("clear failed")
	}
}
