/*
Package ledger maintains per-tenant hash-chained decision logs.

Every decision-affecting action is recorded as a LedgerEntry carrying hashes
of the pre and post state, an opaque delta vector and a signature over a
canonical payload. Entries link to their predecessor through parent_hash, so
a tenant's log forms a tamper-evident chain.

# Appending

Append computes the state hashes, links the entry to the current chain tail,
signs the canonical signable payload and persists the entry, all inside one
store transaction:

	entry, err := ldg.Append(ledger.AppendRequest{
		TenantID:   "acme",
		ActionType: "plan_run",
		Source:     "coordinator",
		PreState:   before,
		PostState:  after,
		Metadata:   map[string]any{"run_id": runID},
	})

The signature mode (HMAC or tenant key) is resolved per entry by the signer;
an entry written while no key material exists is stored unsigned and later
reported unverifiable.

# Verification

Verify replays the chain in chronological order, recomputes each signable
payload and checks the signature with the algorithm and key recorded on the
entry. Historical entries therefore stay verifiable across key rotations.
Summary condenses the same walk into an operator view.
*/
package ledger
