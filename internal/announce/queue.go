// Package announce owns the ordered announcement queue.
//
// The queue is strict FIFO with a single consumer: one worker pops events
// one at a time and hands them to the Notifier under a rate limit, so
// downstream ordering and rate constraints hold by construction. Delivery is
// at-most-once; a failed delivery is logged and the event dropped.
package announce

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cheevobot/internal/challenge"
	logx "cheevobot/pkg/logx"
)

// Notifier delivers one announcement to the outside world.
type Notifier interface {
	Deliver(ctx context.Context, ev challenge.AnnouncementEvent) error
}

type Config struct {
	Enabled    bool
	QueueSize  int // pending-event cap; 0 means 256
	RatePerSec int // deliveries per second; 0 means 1
}

type Queue struct {
	notifier Notifier
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	items   []challenge.AnnouncementEvent
	wake    chan struct{}

	// hmu guards the delivered-event history (status display only).
	hmu     sync.Mutex
	history []HistoryItem

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// HistoryItem records one delivered announcement.
type HistoryItem struct {
	At    time.Time
	Event challenge.AnnouncementEvent
}

func New(cfg Config, notifier Notifier, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{
		notifier: notifier,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
	q.applyLocked(cfg)
	return q
}

func (q *Queue) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	q.cfg = cfg
	q.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Apply swaps queue config at runtime.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.applyLocked(cfg)
	q.mu.Unlock()
}

// Enqueue appends events in order. Events past the cap are dropped and
// logged; earlier events are never displaced.
func (q *Queue) Enqueue(events ...challenge.AnnouncementEvent) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	limit := q.cfg.QueueSize
	for _, ev := range events {
		if len(q.items) >= limit {
			q.log.Warn("announcement queue full; dropping event",
				logx.String("user", ev.User), logx.Int64("game", ev.GameID))
			continue
		}
		q.items = append(q.items, ev)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Clear drops all pending events (maintenance only) and reports how many.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (challenge.AnnouncementEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return challenge.AnnouncementEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Start launches the single consumer. Enabled=false still accepts enqueues
// (they accumulate until Clear or Start with a new config).
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.runCancel != nil || !q.cfg.Enabled {
		q.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.runCancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.consume(runCtx)
	}()
}

// Stop cancels the consumer and waits for the in-flight delivery up to ctx.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	cancel := q.runCancel
	q.runCancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (q *Queue) consume(ctx context.Context) {
	for {
		ev, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.mu.Lock()
		lim := q.limiter
		q.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := q.notifier.Deliver(callCtx, ev)
		cancel()
		if err != nil {
			// Best effort: no retry queue.
			q.log.Warn("announcement delivery failed; dropping event",
				logx.Err(err),
				logx.String("user", ev.User),
				logx.Int64("game", ev.GameID),
				logx.String("tier", ev.NewTier.String()))
			continue
		}
		q.appendHistory(ev)
	}
}

func (q *Queue) appendHistory(ev challenge.AnnouncementEvent) {
	q.hmu.Lock()
	q.history = append(q.history, HistoryItem{At: time.Now(), Event: ev})
	if len(q.history) > 300 {
		q.history = q.history[len(q.history)-300:]
	}
	q.hmu.Unlock()
}

// History returns a snapshot of recently delivered announcements.
func (q *Queue) History() []HistoryItem {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	return append([]HistoryItem(nil), q.history...)
}

// CompactHistory trims the delivered history to the newest keep items.
func (q *Queue) CompactHistory(keep int) {
	if keep < 0 {
		keep = 0
	}
	q.hmu.Lock()
	if len(q.history) > keep {
		q.history = q.history[len(q.history)-keep:]
	}
	q.hmu.Unlock()
}
