package syncer

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs sweeps on a cron schedule. It is an explicit process-wide
// service: Start is idempotent and Stop waits for an in-flight sweep.
type Scheduler struct {
	syncer *Syncer
	log    *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

func NewScheduler(s *Syncer, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{syncer: s, log: log}
}

// Start begins periodic sweeps on the given cron spec. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		s.syncer.Sweep(context.Background())
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.started = true
	s.log.Info("sweep scheduler started", zap.String("spec", spec))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.started = false
	s.log.Info("sweep scheduler stopped")
}
