// Package metabolism estimates a tenant's weekly capacity to execute from
// its health state and open work counts: an effective energy score, fatigue
// and recovery rates, a workload index and a projected weekly task capacity,
// plus risk flags on threshold breaches. The basis map records the inputs a
// state was derived from so results are reproducible.
package metabolism
