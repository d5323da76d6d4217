package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const reconcileTimeout = time.Minute

// Scheduler runs Service.Resume on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(svc *Service, schedule string) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if _, err := svc.Resume(ctx); err != nil {
			slog.Error("scheduled reconcile failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for a running reconcile to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
