package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/internal/store"
)

// Scheduler fires recurring research runs on a cron spec. A redis lock
// keeps multiple server replicas from launching duplicate runs.
type Scheduler struct {
	Cfg    *config.Config
	Store  *store.Store
	Rdb    *redis.Client
	Launch func(research.Request) string
	Stop   chan struct{}

	logger *log.Logger
}

func (s *Scheduler) Start() {
	s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	var last *time.Time
	runs, err := s.Store.ListRuns(ctx, 1)
	if err != nil {
		s.logger.Printf("listing runs: %v", err)
		return
	}
	if len(runs) > 0 {
		t := runs[0].CreatedAt
		last = &t
	}
	if !isDue(s.Cfg.Worker.CronSpec, last) {
		return
	}

	if s.Rdb != nil {
		// the lock expires on its own; releasing it early would let
		// another replica launch a duplicate within the window
		ok, _ := s.Rdb.SetNX(ctx, "alphy:sched:lock", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
	}

	runID := s.Launch(research.Request{
		Categories: s.Cfg.Worker.Categories,
		Mode:       s.Cfg.Worker.Mode,
	})
	s.logger.Printf("scheduled run %s for %v", runID, s.Cfg.Worker.Categories)
}

// isDue determines if a run should fire now given the last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
