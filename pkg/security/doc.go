/*
Package security issues and loads the per-host certificates that back
mutual TLS on every manager/worker/server connection (spec.md §0's
"mTLS host identity" characteristic). It is RayField's own small CA:
one process (ordinarily the manager) holds the root key and signs a
leaf certificate for each host that joins the cluster; every other
process loads that leaf and the root's public certificate from a
shared cert directory rather than ever seeing the root key itself.

This mirrors the teacher's two-file split: CertAuthority owns
generation/signing and persists the root through a durable store
(here pkg/storage's bbolt-backed TagStore, via SaveCA/LoadCA), while
the file-based helpers (CertDir, SaveHostCert, LoadHostCert,
LoadCACert) move an issued leaf certificate onto the filesystem of the
host it was issued for, the same way a real deployment provisions a
worker with credentials out of band before it ever dials the manager.

There is no certificate rotation or revocation here - spec.md's
non-goals leave consensus and high availability out of scope, and a
host whose credentials are compromised is handled the same way any
other misbehaving host is: evicted from transport.Registry.
*/
package security
