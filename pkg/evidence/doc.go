// Package evidence stores the artifacts a planning run leaves behind. Each
// run produces a content-addressed snapshot (inputs, model, solution) keyed
// by the SHA-256 of its canonical JSON, plus a per-tenant append-only graph
// log of nodes and edges derived from the solution. Garbage collection
// bounds the number of snapshot blobs kept on disk.
package evidence
