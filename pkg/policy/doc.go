// Package policy evaluates planning requests against tenant-tier caps and
// goal-policy hints in two phases. Phase A (EvaluateRequest) resolves the
// tier row, merges numeric overrides from the goal and checks scenario and
// budget caps before any work is done. Phase B (EvaluateSolution) checks the
// solver's KPIs against the same resolved controls; its result is the
// snapshot recorded in the ledger and evidence store.
package policy
