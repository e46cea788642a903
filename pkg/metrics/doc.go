/*
Package metrics provides Prometheus metrics collection and exposition for
Windrose.

All metrics are registered on the default registry at package init and exposed
through Handler for scraping. The package also hosts the component health
checker backing the /health, /ready and /livez endpoints, and a background
Collector that samples queue depth gauges from the store.

# Usage

Record an admission outcome:

	metrics.EnqueuesTotal.WithLabelValues("accepted").Inc()

Time a lease selection:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LeaseSelectionLatency)

Mark a component ready:

	metrics.UpdateComponent("store", true, "")
*/
package metrics
