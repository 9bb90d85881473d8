package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cheevobot/internal/challenge"
	logx "cheevobot/pkg/logx"
)

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []challenge.AnnouncementEvent
	fail      map[string]bool
}

func (n *recordingNotifier) Deliver(_ context.Context, ev challenge.AnnouncementEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[ev.User] {
		return errors.New("boom")
	}
	n.delivered = append(n.delivered, ev)
	return nil
}

func (n *recordingNotifier) snapshot() []challenge.AnnouncementEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]challenge.AnnouncementEvent(nil), n.delivered...)
}

func event(user string) challenge.AnnouncementEvent {
	return challenge.AnnouncementEvent{
		User: user, GameID: 7,
		OldTier: challenge.TierNone, NewTier: challenge.TierParticipation,
		At: time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFIFODelivery(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	q := New(Config{Enabled: true, RatePerSec: 1000}, n, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(context.Background())

	q.Enqueue(event("a"), event("b"), event("c"))
	waitFor(t, func() bool { return len(n.snapshot()) == 3 })

	got := n.snapshot()
	for i, want := range []string{"a", "b", "c"} {
		if got[i].User != want {
			t.Fatalf("delivery order = %v", got)
		}
	}
}

func TestDeliveryErrorDropsEvent(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{fail: map[string]bool{"bad": true}}
	q := New(Config{Enabled: true, RatePerSec: 1000}, n, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(context.Background())

	q.Enqueue(event("good1"), event("bad"), event("good2"))
	waitFor(t, func() bool { return len(n.snapshot()) == 2 })

	got := n.snapshot()
	if got[0].User != "good1" || got[1].User != "good2" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("failed event must not be requeued, %d pending", q.Len())
	}
}

func TestClearDropsPending(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	// Not started: events just accumulate.
	q := New(Config{Enabled: true}, n, logx.Nop())
	q.Enqueue(event("a"), event("b"))
	if got := q.Clear(); got != 2 {
		t.Fatalf("Clear = %d, want 2", got)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after clear")
	}
}

func TestQueueCapDropsNewest(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	q := New(Config{Enabled: true, QueueSize: 2}, n, logx.Nop())
	q.Enqueue(event("a"), event("b"), event("c"))
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}
