package metrics

import (
	"time"

	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

// Collector collects queue depth metrics from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectJobMetrics()
}

func (c *Collector) collectJobMetrics() {
	jobCounts := make(map[types.JobStatus]int)

	err := c.store.View(func(tx storage.ReadTx) error {
		jobs, err := tx.ListJobs()
		if err != nil {
			return err
		}
		for _, job := range jobs {
			jobCounts[job.Status]++
		}
		return nil
	})
	if err != nil {
		return
	}

	for _, status := range []types.JobStatus{
		types.JobStatusQueued,
		types.JobStatusLeased,
		types.JobStatusCompleted,
		types.JobStatusFailed,
		types.JobStatusCancelled,
	} {
		JobsTotal.WithLabelValues(string(status)).Set(float64(jobCounts[status]))
	}
}
