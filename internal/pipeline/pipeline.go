// Package pipeline drives the tiered synchronization cycle.
//
// A Pipeline owns all mutable poll state (the ACTIVE set, the check cache,
// the announcement queue handle) and is driven by named triggers. Poll ticks
// are single-flight: a tick that fires while a cycle is in flight is dropped,
// never queued. Maintenance operations take the same slot exclusively, so
// they can never race a cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cheevobot/internal/announce"
	"cheevobot/internal/challenge"
	"cheevobot/internal/provider"
	"cheevobot/internal/scoring"
	"cheevobot/internal/storage"
	logx "cheevobot/pkg/logx"
)

var (
	// ErrCycleInFlight is returned to a tick or forced re-check that lost
	// the single-flight slot.
	ErrCycleInFlight = errors.New("check cycle already in flight")
	// ErrNoChallenges means the current period has no registered challenge.
	ErrNoChallenges = errors.New("no challenges registered for current period")
)

type Config struct {
	// InactiveInterval is the re-check interval for INACTIVE users. ACTIVE
	// users are checked every tick.
	InactiveInterval time.Duration
	// ActiveWindow is how recent a play signal must be to classify ACTIVE.
	ActiveWindow time.Duration
	// FetchTimeout bounds every provider call made during a cycle.
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactiveInterval <= 0 {
		c.InactiveInterval = 30 * time.Minute
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 24 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	return c
}

// MaintenanceKind names the cache-clearing triggers.
type MaintenanceKind string

const (
	MaintenanceDaily   MaintenanceKind = "daily"
	MaintenanceWeekly  MaintenanceKind = "weekly"
	MaintenanceMonthly MaintenanceKind = "monthly"
)

type Pipeline struct {
	store    storage.Store
	provider provider.Client
	scorer   *scoring.Scorer
	queue    *announce.Queue
	log      logx.Logger

	// op is the single-flight slot shared by poll cycles, forced re-checks,
	// and maintenance. Ticks TryLock and drop; maintenance Locks and waits.
	op sync.Mutex

	cfgMu sync.Mutex
	cfg   Config

	active *ActiveSet
	cache  *CheckCache

	// metaMu guards the per-cycle game metadata cache.
	metaMu   sync.Mutex
	metaTTL  time.Duration
	metaByID map[int64]metaEntry
}

type metaEntry struct {
	meta      provider.GameMeta
	fetchedAt time.Time
}

func New(cfg Config, store storage.Store, client provider.Client, scorer *scoring.Scorer, queue *announce.Queue, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		store:    store,
		provider: client,
		scorer:   scorer,
		queue:    queue,
		log:      log,
		cfg:      cfg.withDefaults(),
		active:   NewActiveSet(),
		cache:    NewCheckCache(),
		metaTTL:  time.Hour,
		metaByID: map[int64]metaEntry{},
	}
}

// Apply swaps poller knobs at runtime.
func (p *Pipeline) Apply(cfg Config) {
	p.cfgMu.Lock()
	p.cfg = cfg.withDefaults()
	p.cfgMu.Unlock()
}

func (p *Pipeline) config() Config {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	return p.cfg
}

// Tick runs one poll cycle: select due users, fetch their progress, score
// what changed. A tick that arrives mid-cycle is dropped and logged.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) ([]scoring.CheckResult, error) {
	if !p.op.TryLock() {
		p.log.Warn("poll tick dropped: cycle already in flight")
		return nil, ErrCycleInFlight
	}
	defer p.op.Unlock()
	return p.runCycle(ctx, now)
}

func (p *Pipeline) runCycle(ctx context.Context, now time.Time) ([]scoring.CheckResult, error) {
	period := challenge.PeriodOf(now)
	challenges, err := p.store.ChallengesForPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load challenges: %w", err)
	}
	if len(challenges) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrNoChallenges, period)
	}

	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list users: %w", err)
	}

	cfg := p.config()
	var results []scoring.CheckResult
	checked, skipped := 0, 0

	for _, u := range users {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if !p.due(u.Name, now, cfg.InactiveInterval) {
			skipped++
			continue
		}
		res, changed := p.checkUser(ctx, u.Name, challenges, now, cfg.FetchTimeout)
		if res == nil {
			continue // all fetches failed; isolated, already logged
		}
		checked++
		if !changed {
			p.cache.Touch(u.Name, now)
			continue
		}
		events, err := p.scorer.ApplyResult(ctx, *res)
		if err != nil {
			p.log.Error("scoring failed for user",
				logx.String("user", u.Name), logx.Err(err))
			continue
		}
		p.cache.Put(u.Name, now, progressSignature(res.Games))
		if len(events) > 0 {
			p.queue.Enqueue(events...)
		}
		results = append(results, *res)
	}

	p.log.Debug("poll cycle complete",
		logx.Int("checked", checked),
		logx.Int("skipped", skipped),
		logx.Int("changed", len(results)))
	return results, nil
}

// due reports whether a user should be checked this tick. ACTIVE users are
// due every tick; INACTIVE users only after inactiveInterval; users never
// seen (no cache entry) are always due.
func (p *Pipeline) due(user string, now time.Time, inactiveInterval time.Duration) bool {
	if p.active.Contains(user) {
		return true
	}
	e, ok := p.cache.lookup(user)
	if !ok {
		return true
	}
	return now.Sub(e.lastCheck) >= inactiveInterval
}

// checkUser fetches the user's progress on every current challenge. Returns
// (nil, false) when nothing could be fetched, otherwise the result and
// whether its signature differs from the cached one.
func (p *Pipeline) checkUser(ctx context.Context, user string, challenges []challenge.Challenge, now time.Time, timeout time.Duration) (*scoring.CheckResult, bool) {
	var games []scoring.GameProgress
	for _, ch := range challenges {
		meta, err := p.gameMeta(ctx, ch.GameID, now, timeout)
		if err != nil {
			p.log.Warn("game meta fetch failed; skipping game this cycle",
				logx.Int64("game", ch.GameID), logx.Err(err))
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		prog, err := p.provider.UserProgress(cctx, user, ch.GameID)
		cancel()
		if err != nil {
			p.log.Warn("progress fetch failed; skipping user/game this cycle",
				logx.String("user", user), logx.Int64("game", ch.GameID), logx.Err(err))
			continue
		}
		games = append(games, scoring.GameProgress{Challenge: ch, Meta: meta, Earned: prog.Earned})
	}
	if len(games) == 0 {
		return nil, false
	}

	sig := progressSignature(games)
	if e, ok := p.cache.lookup(user); ok && e.hasSig && e.sig == sig {
		return &scoring.CheckResult{User: user, At: now, Games: games}, false
	}
	return &scoring.CheckResult{User: user, At: now, Games: games}, true
}

func (p *Pipeline) gameMeta(ctx context.Context, gameID int64, now time.Time, timeout time.Duration) (provider.GameMeta, error) {
	p.metaMu.Lock()
	if e, ok := p.metaByID[gameID]; ok && now.Sub(e.fetchedAt) < p.metaTTL {
		p.metaMu.Unlock()
		return e.meta, nil
	}
	p.metaMu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	meta, err := p.provider.GameMeta(cctx, gameID)
	cancel()
	if err != nil {
		return provider.GameMeta{}, err
	}

	p.metaMu.Lock()
	p.metaByID[gameID] = metaEntry{meta: meta, fetchedAt: now}
	p.metaMu.Unlock()
	return meta, nil
}

// ForceCheck re-checks one user immediately, bypassing the check cache but
// honoring the single-flight slot. Used by the privileged re-check command;
// success/failure is surfaced to the caller.
func (p *Pipeline) ForceCheck(ctx context.Context, user string) (*scoring.CheckResult, error) {
	if !p.op.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer p.op.Unlock()

	now := time.Now()
	period := challenge.PeriodOf(now)
	challenges, err := p.store.ChallengesForPeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	if len(challenges) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrNoChallenges, period)
	}

	cfg := p.config()
	res, _ := p.checkUser(ctx, user, challenges, now, cfg.FetchTimeout)
	if res == nil {
		return nil, fmt.Errorf("pipeline: could not fetch progress for %s", user)
	}
	events, err := p.scorer.ApplyResult(ctx, *res)
	if err != nil {
		return nil, err
	}
	p.cache.Put(user, now, progressSignature(res.Games))
	if len(events) > 0 {
		p.queue.Enqueue(events...)
	}
	return res, nil
}

// Maintenance clears transient state. It blocks until any in-flight poll
// cycle finishes; it never runs concurrently with one.
func (p *Pipeline) Maintenance(ctx context.Context, kind MaintenanceKind, now time.Time) {
	p.op.Lock()
	defer p.op.Unlock()

	entries := p.cache.Len()
	p.cache.Clear()

	p.metaMu.Lock()
	p.metaByID = map[int64]metaEntry{}
	p.metaMu.Unlock()

	fields := []logx.Field{
		logx.String("kind", string(kind)),
		logx.Int("cache_entries", entries),
	}
	switch kind {
	case MaintenanceWeekly:
		p.queue.CompactHistory(50)
	case MaintenanceMonthly:
		dropped := p.queue.Clear()
		fields = append(fields, logx.Int("queue_dropped", dropped),
			logx.String("period", challenge.PeriodOf(now).String()))
	}
	p.log.Info("maintenance complete", fields...)
}

// RegisterChallenge fetches game metadata from the provider and upserts the
// challenge for the given period. Re-registering refreshes the achievement
// total (corrections are allowed after scoring starts).
func (p *Pipeline) RegisterChallenge(ctx context.Context, gameID int64, period challenge.Period, typ challenge.ChallengeType) (challenge.Challenge, error) {
	if !period.Valid() {
		return challenge.Challenge{}, fmt.Errorf("invalid period %v", period)
	}
	cfg := p.config()
	meta, err := p.gameMeta(ctx, gameID, time.Now(), cfg.FetchTimeout)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("pipeline: fetch game meta: %w", err)
	}
	c := challenge.Challenge{
		GameID:           gameID,
		Title:            meta.Title,
		Period:           period,
		Type:             typ,
		AchievementTotal: meta.AchievementTotal,
	}
	if err := p.store.UpsertChallenge(ctx, c); err != nil {
		return challenge.Challenge{}, err
	}
	return c, nil
}

// ActiveCount is exposed for the status command.
func (p *Pipeline) ActiveCount() int { return p.active.Len() }

// CachedCount is exposed for the status command.
func (p *Pipeline) CachedCount() int { return p.cache.Len() }
