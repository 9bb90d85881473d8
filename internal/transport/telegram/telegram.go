// Package telegram is the chat boundary: it delivers announcements to the
// configured group and exposes the read-mostly command surface. It never
// mutates pipeline state directly; privileged operations go through the
// pipeline's own guarded entry points.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"cheevobot/internal/announce"
	"cheevobot/internal/challenge"
	"cheevobot/internal/pipeline"
	"cheevobot/internal/ranking"
	"cheevobot/internal/scoring"
	"cheevobot/internal/storage"
	logx "cheevobot/pkg/logx"
)

type Config struct {
	Token        string
	AnnounceChat int64
	AdminUserIDs []int64
	PollTimeout  time.Duration // long-poll timeout; 0 means 10s
}

// Deps are the collaborators the command surface reads from.
type Deps struct {
	Store    storage.Store
	Pipeline *pipeline.Pipeline
	Scorer   *scoring.Scorer
	Ranker   *ranking.Ranker
	Queue    *announce.Queue
}

type Bot struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	bot *tele.Bot

	runMu   sync.Mutex
	running bool
}

// New builds the bot connection. Bind must be called with the pipeline
// collaborators before Start; the split breaks the construction cycle
// between the announcement queue (which needs the bot as its Notifier) and
// the command surface (which needs the queue).
func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{cfg: cfg, log: log, bot: tb}, nil
}

// Bind wires the command surface to its collaborators.
func (b *Bot) Bind(deps Deps) {
	b.deps = deps
	b.registerHandlers()
}

func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	if b.running {
		b.runMu.Unlock()
		return
	}
	b.running = true
	b.runMu.Unlock()

	go b.bot.Start()
	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	b.log.Info("telegram bot started", logx.Int64("announce_chat", b.cfg.AnnounceChat))
}

func (b *Bot) Stop() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	b.bot.Stop()
	b.log.Info("telegram bot stopped")
}

// Deliver implements announce.Notifier: one event, one message, no retry.
func (b *Bot) Deliver(ctx context.Context, ev challenge.AnnouncementEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.bot.Send(tele.ChatID(b.cfg.AnnounceChat), formatAnnouncement(ev))
	return err
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
