package types

import "errors"

// Core error taxonomy. Callers match with errors.Is; packages wrap these
// with context via fmt.Errorf("...: %w", err).
var (
	// ErrRateLimited means the tenant exceeded its per-minute admission rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBudgetExceeded means one or more resource dimensions are exhausted.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrUnknownTier means the requested tier is not in the tier table.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrNotLeasedToWorker means a heartbeat or completion arrived after the
	// lease was lost to the expiry sweeper or another worker.
	ErrNotLeasedToWorker = errors.New("job not leased to worker")

	// ErrJobNotFound means the target job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrTenantNotFound means the target tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrKeyNotFound means the target signing key does not exist.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrNoActiveKey means the tenant has no active signing key.
	ErrNoActiveKey = errors.New("no active signing key")

	// ErrPolicyDenied means policy evaluation denied the request; the
	// decision snapshot carries the reasons.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrSolverTimeout means the solver exceeded its deadline.
	ErrSolverTimeout = errors.New("solver timeout")

	// ErrStoreUnavailable marks a transient store failure; the caller may
	// retry, no partial state was written.
	ErrStoreUnavailable = errors.New("store unavailable")
)
