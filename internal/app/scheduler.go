/**
 * @description
 * Optional in-process cron trigger for the sync engine. Deployments that do
 * not run an external scheduler set SYNC_CRON_SCHEDULE and the service
 * invokes the same RunSync path the HTTP trigger uses.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic sync job.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewScheduler creates a scheduler for the given cron expression. An empty
// schedule disables periodic syncing.
func NewScheduler(service *Service, schedule string) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	return &Scheduler{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the sync job and starts the cron loop. Returns false when
// no schedule is configured.
func (s *Scheduler) Start() bool {
	if s.schedule == "" {
		return false
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runSyncJob); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule sync job\" schedule=%q err=%v", s.schedule, err)
		return false
	}

	log.Printf("level=info component=scheduler msg=\"scheduled sync job\" schedule=%q", s.schedule)
	s.cron.Start()
	return true
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSyncJob() {
	log.Printf("level=info component=scheduler msg=\"starting scheduled sync run\"")

	result, err := s.service.RunSync(context.Background())
	if err != nil {
		log.Printf("level=error component=scheduler msg=\"scheduled sync run failed\" err=%v", err)
		return
	}

	log.Printf("level=info component=scheduler msg=\"scheduled sync run finished\" inserted_bank_tx=%d linked_tx=%d failures=%d",
		result.InsertedBankTx, result.LinkedTx, len(result.Failures))
}
