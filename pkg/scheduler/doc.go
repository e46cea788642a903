/*
Package scheduler dispatches tenant jobs under weighted fair queuing with
lease-based delivery.

# Admission

Enqueue upserts the tenant row from tier defaults, applies the per-minute
rate limit (inclusive boundary, no mutation on denial) and denies when any
budget dimension is exhausted. Admitted jobs are stamped with a virtual
finish time of

	vf = max(tenant.virtual_finish, now_scalar) + sum(cost) / max(weight, eps)

The tenant's own virtual finish only advances when work completes, so the
queue is debt-based: tenants pay in consumed work, not in submissions.

# Dispatch

Lease selects eligible jobs ordered by (priority desc, virtual finish asc,
created_at asc) with a per-tenant fairness pass inside each priority bucket,
and conditionally transitions them to leased. Workers keep leases alive with
Heartbeat and settle with Complete or FailOrCancel. A background sweeper
requeues expired leases, failing jobs that expire repeatedly.

# Job lifecycle

	queued ──Lease──▶ leased ──Complete──▶ completed
	  ▲                 │
	  │                 ├──Fail/Cancel──▶ failed / cancelled
	  └──Sweep(expiry)──┘

completed, failed and cancelled are terminal. Complete, Heartbeat and
FailOrCancel are idempotent on their terminal transitions.

All mutations are check-then-write sequences inside a single serializable
store transaction; concurrent schedulers over the same store are safe.
*/
package scheduler
