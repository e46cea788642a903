/*
Package signing provides ledger entry signatures and tenant signing-key
lifecycle management.

Two signature paths exist: HMAC-SHA-256 over a process-wide secret, and
Ed25519 with a per-tenant key whose private half lives outside the core
(environment PEM in development, a vault reference in production). The
configured mode (hmac, asymmetric, auto) decides which path signs a new
entry; verification instead follows the algorithm recorded on each entry,
so chains written before a rotation remain verifiable after it. RSA-PSS
public keys are accepted for verification of externally signed entries.

KeyManager enforces the single-active-key invariant: activating a key and
expiring its predecessors happens in one store transaction.
*/
package signing
