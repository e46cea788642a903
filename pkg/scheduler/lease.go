package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// Lease hands out up to maxJobs eligible jobs to a worker. Eligible means
// queued, or leased with an expired lease (reclaim). Selection order is
// priority desc, virtual finish asc, created_at asc, with a per-tenant
// fairness pass: within one priority bucket no tenant receives a second job
// while another tenant still has an eligible one.
//
// The transition to leased is conditional on the job's current state inside
// the transaction, so concurrent Lease calls never double-assign.
func (s *Scheduler) Lease(workerID string, maxJobs int, leaseTTL time.Duration) ([]*types.LeasedJob, error) {
	if maxJobs <= 0 {
		return nil, nil
	}
	if leaseTTL <= 0 {
		leaseTTL = s.cfg.DefaultLeaseTTL
	}
	now := s.now().UTC()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LeaseSelectionLatency)

	var leased []*types.LeasedJob
	err := s.store.Update(func(tx storage.WriteTx) error {
		eligible, err := tx.EligibleJobs(now)
		if err != nil {
			return err
		}

		expires := now.Add(leaseTTL)
		for _, job := range selectJobs(eligible, maxJobs) {
			job.Status = types.JobStatusLeased
			job.WorkerID = workerID
			job.LeaseExpires = &expires
			job.Attempts++
			job.UpdatedAt = now
			if err := tx.PutJob(job); err != nil {
				return err
			}
			leased = append(leased, &types.LeasedJob{
				JobID:        job.ID,
				TenantID:     job.TenantID,
				JobType:      job.JobType,
				Payload:      job.Payload,
				CostEstimate: job.CostEstimate,
				LeaseExpires: expires,
				Attempt:      job.Attempts,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, l := range leased {
		metrics.LeasesGranted.Inc()
		s.broker.Publish(&events.Event{
			ID:       uuid.New().String(),
			Type:     events.EventJobLeased,
			TenantID: l.TenantID,
			JobID:    l.JobID,
			Message:  fmt.Sprintf("job %s leased to %s", l.JobID, workerID),
		})
	}

	if len(leased) > 0 {
		s.logger.Debug().
			Str("worker_id", workerID).
			Int("count", len(leased)).
			Msg("Leased jobs")
	}
	return leased, nil
}

// selectJobs orders eligible jobs and applies the per-tenant fairness pass.
// Within each priority bucket tenants are served round-robin in virtual
// finish order; a tenant's second job is only taken once every tenant with
// eligible work in the bucket has received one.
func selectJobs(jobs []*types.Job, maxJobs int) []*types.Job {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		if jobs[i].VirtualFinish != jobs[j].VirtualFinish {
			return jobs[i].VirtualFinish < jobs[j].VirtualFinish
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	var selected []*types.Job
	i := 0
	for i < len(jobs) && len(selected) < maxJobs {
		// Bounds of the current priority bucket
		j := i
		for j < len(jobs) && jobs[j].Priority == jobs[i].Priority {
			j++
		}
		bucket := jobs[i:j]

		remaining := make([]*types.Job, len(bucket))
		copy(remaining, bucket)
		for len(remaining) > 0 && len(selected) < maxJobs {
			taken := make(map[string]bool)
			var leftover []*types.Job
			for _, job := range remaining {
				if len(selected) >= maxJobs {
					leftover = append(leftover, job)
					continue
				}
				if taken[job.TenantID] {
					leftover = append(leftover, job)
					continue
				}
				taken[job.TenantID] = true
				selected = append(selected, job)
			}
			remaining = leftover
		}
		i = j
	}
	return selected
}

// Heartbeat extends a worker's lease on a job. The extension is monotonic; a
// heartbeat that would shorten the lease leaves it unchanged. Fails with
// ErrNotLeasedToWorker if the lease was reclaimed or stolen.
func (s *Scheduler) Heartbeat(jobID, workerID string, extension time.Duration) (time.Time, error) {
	if extension <= 0 {
		extension = s.cfg.DefaultLeaseTTL
	}
	now := s.now().UTC()

	var expires time.Time
	err := s.store.Update(func(tx storage.WriteTx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.Status != types.JobStatusLeased || job.WorkerID != workerID {
			return fmt.Errorf("%w: job %s", types.ErrNotLeasedToWorker, jobID)
		}

		proposed := now.Add(extension)
		if job.LeaseExpires != nil && job.LeaseExpires.After(proposed) {
			expires = *job.LeaseExpires
			return nil
		}
		job.LeaseExpires = &proposed
		job.UpdatedAt = now
		expires = proposed
		return tx.PutJob(job)
	})
	if err != nil {
		return time.Time{}, err
	}
	return expires, nil
}
