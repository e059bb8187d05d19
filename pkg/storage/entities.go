package storage

import (
	"encoding/json"
	"fmt"

	"github.com/maand-sh/maand/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// This file holds the entity CRUD logic shared by BoltStore (auto-commit,
// db.Update/db.View) and boltTx (explicit commit via Store.Begin). Every
// function here takes a raw *bolt.Tx so both callers run the same code.

func getBucketRow(tx *bolt.Tx) (*types.Bucket, error) {
	raw := tx.Bucket(bucketMeta).Get([]byte(bucketRowKey))
	if raw == nil {
		return nil, nil
	}
	var b types.Bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode bucket row: %w", err)
	}
	return &b, nil
}

func saveBucketRow(tx *bolt.Tx, b *types.Bucket) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bucket row: %w", err)
	}
	return tx.Bucket(bucketMeta).Put([]byte(bucketRowKey), raw)
}

func upsertHost(tx *bolt.Tx, h *types.Host) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode host %s: %w", h.HostIP, err)
	}
	return tx.Bucket(bucketHosts).Put([]byte(h.HostIP), raw)
}

func getHost(tx *bolt.Tx, hostIP string) (*types.Host, error) {
	raw := tx.Bucket(bucketHosts).Get([]byte(hostIP))
	if raw == nil {
		return nil, nil
	}
	var h types.Host
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode host %s: %w", hostIP, err)
	}
	return &h, nil
}

func listHosts(tx *bolt.Tx) ([]*types.Host, error) {
	var out []*types.Host
	err := tx.Bucket(bucketHosts).ForEach(func(_, raw []byte) error {
		var h types.Host
		if err := json.Unmarshal(raw, &h); err != nil {
			return fmt.Errorf("decode host: %w", err)
		}
		out = append(out, &h)
		return nil
	})
	return out, err
}

func deleteHost(tx *bolt.Tx, hostIP string) error {
	return tx.Bucket(bucketHosts).Delete([]byte(hostIP))
}

func upsertJob(tx *bolt.Tx, j *types.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.Name, err)
	}
	return tx.Bucket(bucketJobs).Put([]byte(j.Name), raw)
}

func getJob(tx *bolt.Tx, name string) (*types.Job, error) {
	raw := tx.Bucket(bucketJobs).Get([]byte(name))
	if raw == nil {
		return nil, nil
	}
	var j types.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", name, err)
	}
	return &j, nil
}

func listJobs(tx *bolt.Tx) ([]*types.Job, error) {
	var out []*types.Job
	err := tx.Bucket(bucketJobs).ForEach(func(_, raw []byte) error {
		var j types.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			return fmt.Errorf("decode job: %w", err)
		}
		out = append(out, &j)
		return nil
	})
	return out, err
}

func deleteJob(tx *bolt.Tx, name string) error {
	return tx.Bucket(bucketJobs).Delete([]byte(name))
}

// allocationKey is the composite key under which an allocation is stored:
// "<hostIP>/<job>", which also gives natural prefix iteration per host.
func allocationKey(hostIP, job string) []byte {
	return []byte(hostIP + "/" + job)
}

func upsertAllocation(tx *bolt.Tx, a *types.Allocation) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode allocation %s/%s: %w", a.HostIP, a.Job, err)
	}
	return tx.Bucket(bucketAllocations).Put(allocationKey(a.HostIP, a.Job), raw)
}

func getAllocation(tx *bolt.Tx, hostIP, job string) (*types.Allocation, error) {
	raw := tx.Bucket(bucketAllocations).Get(allocationKey(hostIP, job))
	if raw == nil {
		return nil, nil
	}
	var a types.Allocation
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode allocation %s/%s: %w", hostIP, job, err)
	}
	return &a, nil
}

func listAllocations(tx *bolt.Tx) ([]*types.Allocation, error) {
	var out []*types.Allocation
	err := tx.Bucket(bucketAllocations).ForEach(func(_, raw []byte) error {
		var a types.Allocation
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("decode allocation: %w", err)
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func listAllocationsByJob(tx *bolt.Tx, job string) ([]*types.Allocation, error) {
	all, err := listAllocations(tx)
	if err != nil {
		return nil, err
	}
	var out []*types.Allocation
	for _, a := range all {
		if a.Job == job {
			out = append(out, a)
		}
	}
	return out, nil
}

func listAllocationsByHost(tx *bolt.Tx, hostIP string) ([]*types.Allocation, error) {
	var out []*types.Allocation
	c := tx.Bucket(bucketAllocations).Cursor()
	prefix := []byte(hostIP + "/")
	for k, raw := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, raw = c.Next() {
		var a types.Allocation
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode allocation: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

func deleteAllocation(tx *bolt.Tx, hostIP, job string) error {
	return tx.Bucket(bucketAllocations).Delete(allocationKey(hostIP, job))
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
