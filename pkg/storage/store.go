package storage

import "github.com/maand-sh/maand/pkg/types"

// Store is the persistence boundary for all controller state: the bucket
// singleton, hosts, jobs, allocations, and the versioned KV table
// (component A of spec.md §4). Every method here runs in its own
// transaction; use Begin when a caller (the build pipeline) needs several
// operations to commit or roll back together.
type Store interface {
	Tx

	// Begin opens a transaction that exposes the same operations as Store
	// but defers commit to the caller. writable must be true for any
	// transaction that calls a mutating method.
	Begin(writable bool) (Tx, error)

	Close() error
}

// Tx is the set of operations available both directly on a Store (each
// auto-committing) and within a transaction opened by Store.Begin.
type Tx interface {
	// Bucket singleton
	GetBucket() (*types.Bucket, error)
	SaveBucket(b *types.Bucket) error

	// Hosts
	UpsertHost(h *types.Host) error
	GetHost(hostIP string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	DeleteHost(hostIP string) error

	// Jobs
	UpsertJob(j *types.Job) error
	GetJob(name string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	DeleteJob(name string) error

	// Allocations
	UpsertAllocation(a *types.Allocation) error
	GetAllocation(hostIP, job string) (*types.Allocation, error)
	ListAllocations() ([]*types.Allocation, error)
	ListAllocationsByJob(job string) ([]*types.Allocation, error)
	ListAllocationsByHost(hostIP string) ([]*types.Allocation, error)
	DeleteAllocation(hostIP, job string) error

	// KV store (component A)
	Put(ns, key, value string, ttl int64) error
	Get(ns, key string) (string, bool, error)
	GetMetadata(ns, key string) (*types.KVEntry, bool, error)
	Delete(ns, key string) error
	ListKeys(ns string) ([]string, error)
	DeleteNamespace(ns string) error

	// Commit/Rollback are no-ops on the auto-committing Store itself but
	// meaningful on a transaction returned by Begin.
	Commit() error
	Rollback() error
}

// GCResult summarizes one gc run (component A gc, plus the detained-host
// sweep supplemented from original_source/gc.py).
type GCResult struct {
	KVRowsDeleted int
	HostsExpired  int
}
