package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/maand-sh/maand/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta        = []byte("meta")
	bucketHosts       = []byte("hosts")
	bucketJobs        = []byte("jobs")
	bucketAllocations = []byte("allocations")
	bucketKV          = []byte("kv")
)

const bucketRowKey = "bucket"

// BoltStore implements Store using an embedded BoltDB (bbolt) file
// co-located with the workspace, exactly as spec.md §3 describes
// ("a single embedded relational store co-located with the workspace").
type BoltStore struct {
	db    *bolt.DB
	epoch int64
}

// NewBoltStore opens (creating if absent) the controller's database file
// under dataDir and establishes the process-lifetime session epoch used
// for every KV row's created_at in this run (spec.md §4.A, §9).
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "maand.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketHosts, bucketJobs, bucketAllocations, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, epoch: time.Now().Unix()}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Begin opens a transaction sharing this store's session epoch.
func (s *BoltStore) Begin(writable bool) (Tx, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &boltTx{tx: tx, epoch: s.epoch}, nil
}

// --- Bucket singleton ---

func (s *BoltStore) GetBucket() (*types.Bucket, error) {
	var b *types.Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		b, err = getBucketRow(tx)
		return err
	})
	return b, err
}

func (s *BoltStore) SaveBucket(b *types.Bucket) error {
	return s.db.Update(func(tx *bolt.Tx) error { return saveBucketRow(tx, b) })
}

// --- Hosts ---

func (s *BoltStore) UpsertHost(h *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error { return upsertHost(tx, h) })
}

func (s *BoltStore) GetHost(hostIP string) (*types.Host, error) {
	var h *types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		h, err = getHost(tx, hostIP)
		return err
	})
	return h, err
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		hosts, err = listHosts(tx)
		return err
	})
	return hosts, err
}

func (s *BoltStore) DeleteHost(hostIP string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return deleteHost(tx, hostIP) })
}

// --- Jobs ---

func (s *BoltStore) UpsertJob(j *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error { return upsertJob(tx, j) })
}

func (s *BoltStore) GetJob(name string) (*types.Job, error) {
	var j *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		j, err = getJob(tx, name)
		return err
	})
	return j, err
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		jobs, err = listJobs(tx)
		return err
	})
	return jobs, err
}

func (s *BoltStore) DeleteJob(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return deleteJob(tx, name) })
}

// --- Allocations ---

func (s *BoltStore) UpsertAllocation(a *types.Allocation) error {
	return s.db.Update(func(tx *bolt.Tx) error { return upsertAllocation(tx, a) })
}

func (s *BoltStore) GetAllocation(hostIP, job string) (*types.Allocation, error) {
	var a *types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		a, err = getAllocation(tx, hostIP, job)
		return err
	})
	return a, err
}

func (s *BoltStore) ListAllocations() ([]*types.Allocation, error) {
	var out []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = listAllocations(tx)
		return err
	})
	return out, err
}

func (s *BoltStore) ListAllocationsByJob(job string) ([]*types.Allocation, error) {
	var out []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = listAllocationsByJob(tx, job)
		return err
	})
	return out, err
}

func (s *BoltStore) ListAllocationsByHost(hostIP string) ([]*types.Allocation, error) {
	var out []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = listAllocationsByHost(tx, hostIP)
		return err
	})
	return out, err
}

func (s *BoltStore) DeleteAllocation(hostIP, job string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return deleteAllocation(tx, hostIP, job) })
}

// --- KV store (component A) ---

func (s *BoltStore) Put(ns, key, value string, ttl int64) error {
	return s.db.Update(func(tx *bolt.Tx) error { return putKV(tx, ns, key, value, ttl, s.epoch) })
}

func (s *BoltStore) Get(ns, key string) (string, bool, error) {
	var v string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		v, ok, err = getKV(tx, ns, key)
		return err
	})
	return v, ok, err
}

func (s *BoltStore) GetMetadata(ns, key string) (*types.KVEntry, bool, error) {
	var e *types.KVEntry
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		e, ok, err = getMetadataKV(tx, ns, key)
		return err
	})
	return e, ok, err
}

func (s *BoltStore) Delete(ns, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return deleteKV(tx, ns, key, s.epoch) })
}

func (s *BoltStore) ListKeys(ns string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		keys, err = listKeysKV(tx, ns)
		return err
	})
	return keys, err
}

func (s *BoltStore) DeleteNamespace(ns string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return deleteNamespaceKV(tx, ns, s.epoch) })
}

// Commit/Rollback are no-ops on the auto-committing BoltStore; each method
// above already ran inside its own transaction.
func (s *BoltStore) Commit() error   { return nil }
func (s *BoltStore) Rollback() error { return nil }

// GC physically expires soft-deleted KV rows and detained hosts older than
// maxDays, per spec.md §4.A plus the detained-host sweep supplemented from
// original_source/gc.py (see SPEC_FULL.md).
func (s *BoltStore) GC(maxDays int) (*GCResult, error) {
	result := &GCResult{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		deleted, err := gcKV(tx, maxDays, time.Now().Unix())
		if err != nil {
			return err
		}
		result.KVRowsDeleted = deleted

		expired, err := gcDetainedHosts(tx, maxDays, time.Now().Unix())
		if err != nil {
			return err
		}
		result.HostsExpired = expired
		return nil
	})
	return result, err
}

// boltTx implements Tx over a single caller-managed *bolt.Tx, so the build
// pipeline can run several phases and commit (or roll back) them together.
type boltTx struct {
	tx    *bolt.Tx
	epoch int64
}

func (t *boltTx) Commit() error   { return t.tx.Commit() }
func (t *boltTx) Rollback() error { return t.tx.Rollback() }

func (t *boltTx) GetBucket() (*types.Bucket, error) { return getBucketRow(t.tx) }
func (t *boltTx) SaveBucket(b *types.Bucket) error  { return saveBucketRow(t.tx, b) }

func (t *boltTx) UpsertHost(h *types.Host) error { return upsertHost(t.tx, h) }
func (t *boltTx) GetHost(ip string) (*types.Host, error) { return getHost(t.tx, ip) }
func (t *boltTx) ListHosts() ([]*types.Host, error)      { return listHosts(t.tx) }
func (t *boltTx) DeleteHost(ip string) error             { return deleteHost(t.tx, ip) }

func (t *boltTx) UpsertJob(j *types.Job) error      { return upsertJob(t.tx, j) }
func (t *boltTx) GetJob(name string) (*types.Job, error) { return getJob(t.tx, name) }
func (t *boltTx) ListJobs() ([]*types.Job, error)        { return listJobs(t.tx) }
func (t *boltTx) DeleteJob(name string) error            { return deleteJob(t.tx, name) }

func (t *boltTx) UpsertAllocation(a *types.Allocation) error { return upsertAllocation(t.tx, a) }
func (t *boltTx) GetAllocation(ip, job string) (*types.Allocation, error) {
	return getAllocation(t.tx, ip, job)
}
func (t *boltTx) ListAllocations() ([]*types.Allocation, error) { return listAllocations(t.tx) }
func (t *boltTx) ListAllocationsByJob(job string) ([]*types.Allocation, error) {
	return listAllocationsByJob(t.tx, job)
}
func (t *boltTx) ListAllocationsByHost(ip string) ([]*types.Allocation, error) {
	return listAllocationsByHost(t.tx, ip)
}
func (t *boltTx) DeleteAllocation(ip, job string) error { return deleteAllocation(t.tx, ip, job) }

func (t *boltTx) Put(ns, key, value string, ttl int64) error {
	return putKV(t.tx, ns, key, value, ttl, t.epoch)
}
func (t *boltTx) Get(ns, key string) (string, bool, error) { return getKV(t.tx, ns, key) }
func (t *boltTx) GetMetadata(ns, key string) (*types.KVEntry, bool, error) {
	return getMetadataKV(t.tx, ns, key)
}
func (t *boltTx) Delete(ns, key string) error { return deleteKV(t.tx, ns, key, t.epoch) }
func (t *boltTx) ListKeys(ns string) ([]string, error) { return listKeysKV(t.tx, ns) }
func (t *boltTx) DeleteNamespace(ns string) error      { return deleteNamespaceKV(t.tx, ns, t.epoch) }
