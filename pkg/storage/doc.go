/*
Package storage provides the manager's bbolt-backed durable state: the
tag allocation high-water mark, the known-host reconnection table, and
the serialized root of pkg/security's certificate authority.

Everything else in RayField is either in-memory (the tagged database,
the dataflow engine, the job queue) or an external artifact owned by a
plugin (images, textures). The one thing that must survive a manager
restart is "which tags have already been handed out" - reusing a tag
that a still-running worker believes is live would violate the tagged
database's content-addressing guarantee. TagStore persists that
high-water mark, plus enough per-host bookkeeping (address, role,
handshake checksum) that a reconnecting worker can be recognized
rather than treated as brand new, plus the CA root so a restarted
manager keeps signing with the root other hosts already trust.

This is deliberately not a replicated or consensus-backed store: per
spec.md's non-goals, the manager is the sole authority and is expected
to be restarted, not failed over.

# Usage

	store, err := storage.Open(dataDir)
	if err != nil { ... }
	defer store.Close()

	t, err := store.NextTag()
	store.SaveHost(host, storage.HostRecord{Addr: addr, Role: "worker"})
*/
package storage
