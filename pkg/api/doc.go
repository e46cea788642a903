// Package api exposes the control plane over HTTP/JSON: plan submission,
// tenant budgets and limits, ledger inspection and verification, and key
// registration. Sentinel errors from the core map onto HTTP statuses; a
// policy denial is a 403 whose body carries the decision snapshot.
package api
