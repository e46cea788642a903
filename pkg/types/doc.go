// Package types defines the core entities of the Windrose control plane:
// tenants with tiered budgets, leased jobs, hash-chained ledger entries and
// tenant signing keys, together with the sentinel error taxonomy shared by
// every package.
//
// The JSON tags on these structs are the stable on-disk contract of the
// store; changes must be backward compatible (additive fields only).
package types
