// Package canonical provides the deterministic JSON serialization used for
// state hashing and ledger signatures. Writer and verifier must produce the
// same bytes for the same value, so every hash in the system goes through
// Marshal or Hash here and nowhere else.
package canonical
