package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// Start begins the background lease expiry sweeper.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := s.SweepExpiredLeases(s.now()); err != nil {
					s.logger.Error().Err(err).Msg("Lease sweep failed")
				}
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Msg("Lease sweeper started")
}

// Stop stops the background sweeper.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// SweepExpiredLeases requeues every job whose lease expired at or before
// now, keeping its original virtual finish so recovered work retains its
// place in line. A job that has burned through MaxLeaseAttempts leases is
// failed instead, with the tenant debited by the enqueued estimate.
func (s *Scheduler) SweepExpiredLeases(now time.Time) error {
	now = now.UTC()
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepCyclesTotal.Inc()
	}()

	type swept struct {
		jobID    string
		tenantID string
		failed   bool
	}
	var reclaimed []swept

	err := s.store.Update(func(tx storage.WriteTx) error {
		eligible, err := tx.EligibleJobs(now)
		if err != nil {
			return err
		}

		for _, job := range eligible {
			if job.Status != types.JobStatusLeased {
				continue
			}
			if job.LeaseExpires == nil || job.LeaseExpires.After(now) {
				continue
			}

			if job.Attempts >= s.cfg.MaxLeaseAttempts {
				job.Status = types.JobStatusFailed
				job.FailReason = ReasonLeaseExpired
				job.WorkerID = ""
				job.LeaseExpires = nil
				job.UpdatedAt = now
				if err := tx.PutJob(job); err != nil {
					return err
				}

				tenant, err := tx.GetTenant(job.TenantID)
				if err != nil {
					return err
				}
				tenant.Remaining = tenant.Remaining.Sub(job.CostEstimate)
				tenant.UpdatedAt = now
				if err := tx.PutTenant(tenant); err != nil {
					return err
				}
				reclaimed = append(reclaimed, swept{job.ID, job.TenantID, true})
				continue
			}

			job.Status = types.JobStatusQueued
			job.WorkerID = ""
			job.LeaseExpires = nil
			job.UpdatedAt = now
			if err := tx.PutJob(job); err != nil {
				return err
			}
			reclaimed = append(reclaimed, swept{job.ID, job.TenantID, false})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range reclaimed {
		metrics.LeasesExpired.Inc()
		eventType := events.EventLeaseExpired
		message := "lease expired, job requeued"
		if r.failed {
			eventType = events.EventJobFailed
			message = ReasonLeaseExpired
		}
		s.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     eventType,
			TenantID: r.tenantID,
			JobID:    r.jobID,
			Message:  message,
		})
	}

	if len(reclaimed) > 0 {
		s.logger.Info().Int("count", len(reclaimed)).Msg("Reclaimed expired leases")
	}
	return nil
}
