// Package scheduler triggers pipeline executions on cron schedules.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler wraps robfig/cron with the standard five-field syntax plus
// descriptors like @hourly.
type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
	}
}

// Add schedules job to run on the given cron expression.
func (s *Scheduler) Add(spec string, job func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("parsing cron expression %q: %w", spec, err)
	}

	log.Debug().Str("spec", spec).Msg("Scheduled job added")
	return id, nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new runs and returns a context that is done once
// in-flight jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
