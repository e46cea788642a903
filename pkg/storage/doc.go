/*
Package storage provides the durable state authority for the Windrose
control plane, backed by BoltDB.

All tenant, job, ledger and signing-key records live here; everything held
in memory elsewhere is a projection of this store. The interface is
transactional rather than CRUD-per-entity: callers open a View (consistent
read) or an Update (serializable read-write) and operate on the entities
inside it.

	err := store.Update(func(tx storage.WriteTx) error {
		job, err := tx.GetJob(id)
		if err != nil {
			return err
		}
		if job.Status != types.JobStatusLeased || job.WorkerID != workerID {
			return types.ErrNotLeasedToWorker
		}
		job.Status = types.JobStatusCompleted
		return tx.PutJob(job)
	})

Because BoltDB Update transactions are single-writer and serializable,
a check-then-write sequence inside one Update is a conditional update:
either the whole transition commits against the state that was read, or
the returned error aborts it with nothing written. That is the mechanism
behind lease acquisition, heartbeat extension, rate-limit stamping and
the single-active-signing-key invariant.

Ledger entries are stored in a nested bucket per tenant, keyed by a
big-endian monotone sequence from bucket NextSequence, so a forward cursor
walk is chain order and the tail is the newest entry. The core only ever
appends; PutLedgerEntry exists for migration tooling.
*/
package storage
