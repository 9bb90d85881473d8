package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cheevobot/internal/announce"
	"cheevobot/internal/challenge"
	"cheevobot/internal/provider"
	"cheevobot/internal/scoring"
	"cheevobot/internal/storage"
	logx "cheevobot/pkg/logx"
)

var (
	tickTime = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	period   = challenge.Period{Month: time.March, Year: 2024}
)

type fakeProvider struct {
	mu            sync.Mutex
	meta          provider.GameMeta
	progress      map[string]map[int64]time.Time
	failUsers     map[string]bool
	failActivity  bool
	activePlayers []provider.RecentPlayer
	progressCalls map[string]int

	// gate, when non-nil, blocks UserProgress until closed. blocked is
	// signaled once the first call is parked on the gate.
	gate    chan struct{}
	blocked chan struct{}
	once    sync.Once
}

func (f *fakeProvider) GameMeta(_ context.Context, gameID int64) (provider.GameMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.meta
	m.GameID = gameID
	return m, nil
}

func (f *fakeProvider) UserProgress(_ context.Context, user string, gameID int64) (provider.UserProgress, error) {
	f.mu.Lock()
	if f.progressCalls == nil {
		f.progressCalls = map[string]int{}
	}
	f.progressCalls[user]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		f.once.Do(func() {
			if f.blocked != nil {
				close(f.blocked)
			}
		})
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers[user] {
		return provider.UserProgress{}, provider.ErrUnavailable
	}
	earned := map[int64]time.Time{}
	for id, at := range f.progress[user] {
		earned[id] = at
	}
	return provider.UserProgress{GameID: gameID, User: user, Earned: earned}, nil
}

func (f *fakeProvider) RecentlyActive(_ context.Context, _ time.Time) ([]provider.RecentPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failActivity {
		return nil, provider.ErrUnavailable
	}
	return append([]provider.RecentPlayer(nil), f.activePlayers...), nil
}

func (f *fakeProvider) calls(user string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progressCalls[user]
}

type nopNotifier struct{}

func (nopNotifier) Deliver(context.Context, challenge.AnnouncementEvent) error { return nil }

func newTestPipeline(t *testing.T, fp *fakeProvider, users ...string) (*Pipeline, *storage.Memory, *announce.Queue) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	if err := store.UpsertChallenge(ctx, challenge.Challenge{
		GameID: 77, Title: "Mega Quest", Period: period,
		Type: challenge.TypePrimary, AchievementTotal: 10,
	}); err != nil {
		t.Fatalf("UpsertChallenge: %v", err)
	}
	for _, u := range users {
		if err := store.UpsertUser(ctx, challenge.User{Name: u}); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	scorer := scoring.New(store, challenge.DefaultPoints(), logx.Nop())
	// Queue is not started: enqueued events accumulate for inspection.
	queue := announce.New(announce.Config{Enabled: true}, nopNotifier{}, logx.Nop())
	p := New(Config{InactiveInterval: 30 * time.Minute}, store, fp, scorer, queue, logx.Nop())
	return p, store, queue
}

func earned(ids ...int64) map[int64]time.Time {
	m := make(map[int64]time.Time, len(ids))
	for _, id := range ids {
		m[id] = tickTime
	}
	return m
}

func TestTickScoresChangedUsers(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta:     provider.GameMeta{AchievementTotal: 10, ProgressionIDs: []int64{1, 2}, WinIDs: []int64{9}},
		progress: map[string]map[int64]time.Time{"alice": earned(1, 2)},
	}
	p, store, queue := newTestPipeline(t, fp, "alice")

	results, err := p.Tick(context.Background(), tickTime)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(results) != 1 || results[0].User != "alice" {
		t.Fatalf("unexpected results: %+v", results)
	}
	a, ok, _ := store.GetAward(context.Background(), "alice", 77, period)
	if !ok || a.Tier != challenge.TierParticipation {
		t.Fatalf("award not written: %+v", a)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected 1 queued announcement, got %d", queue.Len())
	}
}

func TestTickSingleFlight(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	fp := &fakeProvider{
		meta:     provider.GameMeta{AchievementTotal: 10},
		progress: map[string]map[int64]time.Time{"alice": earned(1)},
		gate:     gate,
		blocked:  make(chan struct{}),
	}
	p, _, _ := newTestPipeline(t, fp, "alice")

	done := make(chan error, 1)
	go func() {
		_, err := p.Tick(context.Background(), tickTime)
		done <- err
	}()
	<-fp.blocked

	// Re-entrant tick is dropped, not queued.
	if _, err := p.Tick(context.Background(), tickTime); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("second tick err = %v, want ErrCycleInFlight", err)
	}
	// A forced re-check competes for the same slot.
	if _, err := p.ForceCheck(context.Background(), "alice"); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("ForceCheck err = %v, want ErrCycleInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if got := fp.calls("alice"); got != 1 {
		t.Fatalf("alice fetched %d times in one wall-clock cycle, want 1", got)
	}
}

func TestTickSkipsUnchangedSignature(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta:     provider.GameMeta{AchievementTotal: 10},
		progress: map[string]map[int64]time.Time{"alice": earned(1, 2)},
	}
	p, _, queue := newTestPipeline(t, fp, "alice")
	p.active.Replace([]string{"alice"}) // checked every tick

	if _, err := p.Tick(context.Background(), tickTime); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	results, err := p.Tick(context.Background(), tickTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("unchanged progress must not produce results: %+v", results)
	}
	if queue.Len() != 1 {
		t.Fatalf("no duplicate announcements expected, queue len %d", queue.Len())
	}
	if got := fp.calls("alice"); got != 2 {
		t.Fatalf("active user should be fetched every tick, got %d", got)
	}
}

func TestTieredEligibility(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta: provider.GameMeta{AchievementTotal: 10},
		progress: map[string]map[int64]time.Time{
			"hot":  earned(1),
			"cold": earned(2),
		},
	}
	p, _, _ := newTestPipeline(t, fp, "hot", "cold")
	p.active.Replace([]string{"hot"})

	// First tick: both unseen, both checked.
	if _, err := p.Tick(context.Background(), tickTime); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	// One minute later: ACTIVE re-checked, INACTIVE not yet due.
	if _, err := p.Tick(context.Background(), tickTime.Add(time.Minute)); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	if got := fp.calls("hot"); got != 2 {
		t.Fatalf("active user checked %d times, want 2", got)
	}
	if got := fp.calls("cold"); got != 1 {
		t.Fatalf("inactive user checked %d times, want 1", got)
	}
	// Past the inactive interval: INACTIVE due again.
	if _, err := p.Tick(context.Background(), tickTime.Add(31*time.Minute)); err != nil {
		t.Fatalf("Tick 3: %v", err)
	}
	if got := fp.calls("cold"); got != 2 {
		t.Fatalf("inactive user checked %d times after interval, want 2", got)
	}
}

func TestMaintenanceClearsCacheNotAwards(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta:     provider.GameMeta{AchievementTotal: 10, ProgressionIDs: []int64{1, 2}, WinIDs: []int64{9}},
		progress: map[string]map[int64]time.Time{"alice": earned(1, 2, 9)},
	}
	p, store, _ := newTestPipeline(t, fp, "alice")

	if _, err := p.Tick(context.Background(), tickTime); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if p.CachedCount() != 1 {
		t.Fatalf("cache entries = %d", p.CachedCount())
	}

	p.Maintenance(context.Background(), MaintenanceDaily, tickTime.Add(time.Hour))
	if p.CachedCount() != 0 {
		t.Fatal("maintenance must clear the check cache")
	}

	// Next tick: user treated as unseen (fetched again even though
	// INACTIVE and only 2 minutes passed), award tier untouched.
	if _, err := p.Tick(context.Background(), tickTime.Add(2*time.Minute)); err != nil {
		t.Fatalf("Tick after maintenance: %v", err)
	}
	if got := fp.calls("alice"); got != 2 {
		t.Fatalf("user not re-fetched after cache clear, calls = %d", got)
	}
	a, ok, _ := store.GetAward(context.Background(), "alice", 77, period)
	if !ok || a.Tier != challenge.TierBeaten {
		t.Fatalf("award changed by maintenance: %+v", a)
	}
}

func TestTickErrorIsolation(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta: provider.GameMeta{AchievementTotal: 10},
		progress: map[string]map[int64]time.Time{
			"good": earned(1),
		},
		failUsers: map[string]bool{"bad": true},
	}
	p, _, _ := newTestPipeline(t, fp, "bad", "good")

	results, err := p.Tick(context.Background(), tickTime)
	if err != nil {
		t.Fatalf("a failing user must not abort the cycle: %v", err)
	}
	if len(results) != 1 || results[0].User != "good" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestTickNoChallenges(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{meta: provider.GameMeta{AchievementTotal: 10}}
	store := storage.NewMemory()
	scorer := scoring.New(store, challenge.DefaultPoints(), logx.Nop())
	queue := announce.New(announce.Config{Enabled: true}, nopNotifier{}, logx.Nop())
	p := New(Config{}, store, fp, scorer, queue, logx.Nop())

	if _, err := p.Tick(context.Background(), tickTime); !errors.Is(err, ErrNoChallenges) {
		t.Fatalf("err = %v, want ErrNoChallenges", err)
	}
}

func TestRefreshActivityFailSafe(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta: provider.GameMeta{AchievementTotal: 10},
		activePlayers: []provider.RecentPlayer{
			{User: "Alice", LastPlayed: tickTime.Add(-time.Hour)},
			{User: "stale", LastPlayed: tickTime.Add(-48 * time.Hour)},
		},
	}
	p, _, _ := newTestPipeline(t, fp, "alice")

	if err := p.RefreshActivity(context.Background(), tickTime); err != nil {
		t.Fatalf("RefreshActivity: %v", err)
	}
	if !p.active.Contains("ALICE") || p.active.Contains("stale") {
		t.Fatalf("active set wrong: len=%d", p.active.Len())
	}

	// Provider failure retains the previous set.
	fp.mu.Lock()
	fp.failActivity = true
	fp.mu.Unlock()
	if err := p.RefreshActivity(context.Background(), tickTime.Add(time.Hour)); err == nil {
		t.Fatal("expected refresh error")
	}
	if !p.active.Contains("alice") {
		t.Fatal("previous active set must be retained on failure")
	}
}

func TestForceCheckBypassesCache(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{
		meta:     provider.GameMeta{AchievementTotal: 10},
		progress: map[string]map[int64]time.Time{"alice": earned(1)},
	}
	p, _, _ := newTestPipeline(t, fp, "alice")

	if _, err := p.Tick(context.Background(), tickTime); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	res, err := p.ForceCheck(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ForceCheck: %v", err)
	}
	if res == nil || res.User != "alice" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := fp.calls("alice"); got != 2 {
		t.Fatalf("force check must re-fetch, calls = %d", got)
	}
}
