package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/types"
)

// WorkerConfig tunes one worker's lease loop.
type WorkerConfig struct {
	ID           string
	Concurrency  int           // max jobs held at once
	PollInterval time.Duration // lease poll cadence
	LeaseTTL     time.Duration // 0 uses the scheduler default
}

// Worker polls the scheduler for plan_run jobs and executes them through the
// coordinator. Each held job gets a background heartbeat ticker; a heartbeat
// rejection means the lease was reclaimed and cancels the run.
type Worker struct {
	cfg    WorkerConfig
	coord  *Coordinator
	sched  *scheduler.Scheduler
	logger zerolog.Logger

	active   int
	activeMu sync.Mutex
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

// NewWorker creates a worker. Zero-value config fields get defaults.
func NewWorker(cfg WorkerConfig, coord *Coordinator, sched *scheduler.Scheduler) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Worker{
		cfg:    cfg,
		coord:  coord,
		sched:  sched,
		logger: log.WithComponent("worker").With().Str("worker_id", cfg.ID).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the lease loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.leaseLoop()
	w.logger.Info().Msg("Worker started")
}

// Stop stops leasing, waits for held jobs to finish and returns.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) leaseLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stopCh:
			return
		}
	}
}

// poll leases up to the free capacity and starts a goroutine per job.
func (w *Worker) poll() {
	w.activeMu.Lock()
	free := w.cfg.Concurrency - w.active
	w.activeMu.Unlock()
	if free <= 0 {
		return
	}

	leased, err := w.sched.Lease(w.cfg.ID, free, w.cfg.LeaseTTL)
	if err != nil {
		w.logger.Error().Err(err).Msg("Lease poll failed")
		return
	}

	for _, job := range leased {
		w.activeMu.Lock()
		w.active++
		w.activeMu.Unlock()

		w.wg.Add(1)
		go w.run(job)
	}
}

func (w *Worker) run(job *types.LeasedJob) {
	defer w.wg.Done()
	defer func() {
		w.activeMu.Lock()
		w.active--
		w.activeMu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	hbDone := make(chan struct{})
	go w.heartbeatLoop(ctx, cancel, job, hbDone)
	defer func() {
		cancel()
		<-hbDone
	}()

	if job.JobType != JobTypePlanRun {
		w.logger.Warn().Str("job_id", job.JobID).Str("job_type", job.JobType).Msg("Unsupported job type")
		if err := w.sched.FailOrCancel(job.JobID, w.cfg.ID, "unsupported_job_type"); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to fail job")
		}
		return
	}

	if err := w.coord.RunPlanJob(ctx, w.cfg.ID, job); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Plan run failed")
	}
}

// heartbeatLoop extends the job's lease until the run finishes. A rejected
// heartbeat means the lease expired and was reclaimed; the run is cancelled
// so it stops consuming solver time for a job it no longer holds.
func (w *Worker) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, job *types.LeasedJob, done chan<- struct{}) {
	defer close(done)

	interval := w.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.sched.Heartbeat(job.JobID, w.cfg.ID, w.cfg.LeaseTTL); err != nil {
				w.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Heartbeat rejected, cancelling run")
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
