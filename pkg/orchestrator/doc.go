// Package orchestrator glues the control plane together. The Coordinator
// admits planning requests through the policy guard into the scheduler and
// executes leased plan_run jobs: solver under a deadline, phase-B policy on
// the solution, evidence snapshot and graph event, a signed ledger entry,
// then settlement with actual costs. Workers poll for leases and keep them
// alive with background heartbeats while a run is in flight.
package orchestrator
