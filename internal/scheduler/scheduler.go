// Package scheduler fires the small fixed set of named triggers that drive
// the pipeline. It is deliberately not a general job scheduler: triggers are
// registered once at startup with domain-fixed cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "cheevobot/pkg/logx"
)

var ErrAlreadyStarted = errors.New("scheduler already started")

// Trigger is one named tick source. Run receives the firing time; handlers
// for the same trigger never overlap (a firing that lands while the previous
// run is live is skipped).
type Trigger struct {
	Name string
	Spec string
	Run  func(ctx context.Context, now time.Time)
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu        sync.Mutex
	defs      []Trigger
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(timezone string, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler: bad timezone %q: %w", tz, err)
		}
		loc = l
	}
	return &Service{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
	}, nil
}

// Register validates the spec and stores the trigger. Must be called before
// Start.
func (s *Service) Register(t Trigger) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("scheduler: trigger needs a name and a handler")
	}
	if _, err := s.parser.Parse(t.Spec); err != nil {
		return fmt.Errorf("scheduler: trigger %s: invalid spec %q: %w", t.Name, t.Spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return ErrAlreadyStarted
	}
	s.defs = append(s.defs, t)
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return ErrAlreadyStarted
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, def := range s.defs {
		def := def
		job := cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in trigger handler",
						logx.String("trigger", def.Name),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			if runCtx.Err() != nil {
				return
			}
			def.Run(runCtx, time.Now().In(s.loc))
		})
		// Skip firings that land mid-run; downstream also guards itself.
		if _, err := c.AddJob(def.Spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job)); err != nil {
			s.runCancel()
			s.runCtx, s.runCancel = nil, nil
			return fmt.Errorf("scheduler: add %s: %w", def.Name, err)
		}
	}
	s.c = c
	c.Start()
	s.log.Info("scheduler started",
		logx.Int("triggers", len(s.defs)),
		logx.String("tz", s.loc.String()))
	return nil
}

// Stop halts firing and waits for in-flight handlers up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		// handlers keep draining in background; runCtx cancellation below
		// tells them to wind down.
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}
