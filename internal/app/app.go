// Package app wires configuration, storage, the provider client, the
// pipeline, and the telegram surface into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cheevobot/internal/announce"
	"cheevobot/internal/challenge"
	"cheevobot/internal/config"
	"cheevobot/internal/pipeline"
	"cheevobot/internal/provider"
	"cheevobot/internal/ranking"
	"cheevobot/internal/scheduler"
	"cheevobot/internal/scoring"
	"cheevobot/internal/storage"
	telegram "cheevobot/internal/transport/telegram"
	logx "cheevobot/pkg/logx"
)

const (
	specTick     = "* * * * *"
	specActivity = "*/15 * * * *"
	specDaily    = "0 6 * * *"
	specWeekly   = "0 6 * * 1"
	specMonthly  = "5 0 1 * *"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	pipe   *pipeline.Pipeline
	scorer *scoring.Scorer
	ranker *ranking.Ranker
	queue  *announce.Queue
	sched  *scheduler.Service
	bot    *telegram.Bot

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	providerTimeout, err := config.ParseDurationOrDefault("provider.timeout", cfg.Provider.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	client, err := provider.NewHTTP(provider.Config{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Timeout:    providerTimeout,
		RatePerSec: cfg.Provider.RatePerSec,
	}, logSvc.Logger().With(logx.String("comp", "provider")))
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bot, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		AnnounceChat: cfg.Telegram.AnnounceChat,
		AdminUserIDs: cfg.Telegram.AdminUserIDs,
		PollTimeout:  pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	scorer := scoring.New(store, mapPoints(cfg), logSvc.Logger().With(logx.String("comp", "scoring")))
	queue := announce.New(mapQueue(cfg), bot, logSvc.Logger().With(logx.String("comp", "announce")))

	pipeCfg, err := mapPipeline(cfg)
	if err != nil {
		return nil, err
	}
	pipe := pipeline.New(pipeCfg, store, client, scorer, queue,
		logSvc.Logger().With(logx.String("comp", "pipeline")))
	ranker := ranking.New(store)

	bot.Bind(telegram.Deps{
		Store:    store,
		Pipeline: pipe,
		Scorer:   scorer,
		Ranker:   ranker,
		Queue:    queue,
	})

	sched, err := scheduler.New(cfg.Poll.Timezone, logSvc.Logger().With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		store:  store,
		pipe:   pipe,
		scorer: scorer,
		ranker: ranker,
		queue:  queue,
		sched:  sched,
		bot:    bot,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	if err := a.registerTriggers(cfg); err != nil {
		return err
	}

	a.queue.Start(ctx)
	a.bot.Start(ctx)
	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	// Config watch: hot-apply logging, scoring, announce, and poller knobs.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	updates := a.cfgm.Subscribe(1)
	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		_ = a.cfgm.Watch(watchCtx)
	}()
	go func() {
		defer a.watchWG.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-watchCtx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(next)
			}
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) registerTriggers(cfg *config.Config) error {
	specs := []struct {
		name string
		def  string
		got  string
		run  func(ctx context.Context, now time.Time)
	}{
		{"poll", specTick, cfg.Poll.TickSpec, a.onPoll},
		{"activity", specActivity, cfg.Poll.ActivitySpec, func(ctx context.Context, now time.Time) {
			_ = a.pipe.RefreshActivity(ctx, now)
		}},
		{"daily", specDaily, cfg.Poll.DailySpec, a.onMaintenance(pipeline.MaintenanceDaily)},
		{"weekly", specWeekly, cfg.Poll.WeeklySpec, a.onMaintenance(pipeline.MaintenanceWeekly)},
		{"monthly", specMonthly, cfg.Poll.MonthlySpec, a.onMaintenance(pipeline.MaintenanceMonthly)},
	}
	for _, s := range specs {
		spec := s.def
		if s.got != "" {
			spec = s.got
		}
		if err := a.sched.Register(scheduler.Trigger{Name: s.name, Spec: spec, Run: s.run}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) onPoll(ctx context.Context, now time.Time) {
	_, err := a.pipe.Tick(ctx, now)
	switch {
	case err == nil, ctx.Err() != nil:
	case pipelineExpected(err):
		// Dropped tick or unconfigured period; already logged at the source.
	default:
		a.log.Error("poll cycle failed", logx.Err(err))
	}
}

func pipelineExpected(err error) bool {
	return errors.Is(err, pipeline.ErrCycleInFlight) || errors.Is(err, pipeline.ErrNoChallenges)
}

func (a *App) onMaintenance(kind pipeline.MaintenanceKind) func(ctx context.Context, now time.Time) {
	return func(ctx context.Context, now time.Time) {
		a.pipe.Maintenance(ctx, kind, now)
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLogging(cfg))
	a.scorer.Apply(mapPoints(cfg))
	a.queue.Apply(mapQueue(cfg))
	if pc, err := mapPipeline(cfg); err == nil {
		a.pipe.Apply(pc)
	} else {
		a.log.Warn("poll config not applied", logx.Err(err))
	}
	a.log.Info("config applied")
}

// Stop shuts everything down with a bounded grace period per component.
func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	a.sched.Stop(stopCtx)
	a.queue.Stop(stopCtx)
	a.bot.Stop()

	a.watchWG.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPoints(cfg *config.Config) challenge.PointScheme {
	p := cfg.Scoring.Points
	if p.Participation == 0 && p.Beaten == 0 && p.Mastered == 0 {
		return challenge.DefaultPoints()
	}
	return challenge.PointScheme{
		Participation: p.Participation,
		Beaten:        p.Beaten,
		Mastered:      p.Mastered,
	}
}

func mapQueue(cfg *config.Config) announce.Config {
	return announce.Config{
		Enabled:    cfg.Announce.Enabled,
		QueueSize:  cfg.Announce.QueueSize,
		RatePerSec: cfg.Announce.RatePerSec,
	}
}

func mapPipeline(cfg *config.Config) (pipeline.Config, error) {
	inactive, err := config.ParseDurationOrDefault("poll.inactive_interval", cfg.Poll.InactiveInterval, 30*time.Minute)
	if err != nil {
		return pipeline.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("poll.active_window", cfg.Poll.ActiveWindow, 24*time.Hour)
	if err != nil {
		return pipeline.Config{}, err
	}
	fetch, err := config.ParseDurationOrDefault("poll.fetch_timeout", cfg.Poll.FetchTimeout, 15*time.Second)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		InactiveInterval: inactive,
		ActiveWindow:     window,
		FetchTimeout:     fetch,
	}, nil
}
