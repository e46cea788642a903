// Package events provides an in-process broker for control-plane events:
// admissions, lease transitions, ledger appends, key rotations and policy
// denials. Subscribers receive events on buffered channels; slow consumers
// are skipped rather than blocking the publisher.
package events
