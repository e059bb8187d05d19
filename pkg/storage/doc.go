/*
Package storage is the controller's only persistence boundary. Everything
the controller knows between invocations - the cluster bucket, the host
inventory, ingested job manifests, host x job allocations, and the
versioned key-value table user commands read and write - lives in one
BoltDB file, opened once per run by NewBoltStore.

	Store (auto-commit)              Tx (explicit commit, via Begin)
	  db.Update / db.View      --->     one *bolt.Tx shared across calls
	       |                                      |
	       +------------------+-------------------+
	                          |
	                entities.go / kv.go
	             (pure functions over *bolt.Tx)

The split exists because the build pipeline (pkg/build) must commit the
reconciler, job builder, assigner, validator, variable composer, and
post_build hook as one all-or-nothing unit, while deploy commits per tier
as each one finishes. Both shapes run the exact same CRUD and KV logic in
entities.go and kv.go; only the transaction boundary differs.

The kv bucket is nested three deep (namespace -> key -> version) so that
every put appends rather than overwrites, which is what lets gc.go and the
version-pruning half of gcKV tell "current value" apart from "history".
*/
package storage
