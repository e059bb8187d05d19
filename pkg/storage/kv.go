package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/maand-sh/maand/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Versioned KV store (component A of spec.md §4). Layout inside the top
// level "kv" bucket:
//
//	kv/<namespace>/<key>/<version uint64 BE> -> kvRow JSON
//
// The namespace and key levels are nested buckets so list_keys can scan a
// namespace without touching unrelated ones, and every put appends a new
// version row rather than overwriting, which is what makes gc's
// "versions-behind-max" pruning possible.

const keepVersions = 7

type kvRow struct {
	Value     string `json:"value"`
	TTL       int64  `json:"ttl"`
	CreatedAt int64  `json:"created_at"`
	Deleted   bool   `json:"deleted"`
}

func versionKey(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func nsBucket(tx *bolt.Tx, ns string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(bucketKV)
	if create {
		return root.CreateBucketIfNotExists([]byte(ns))
	}
	return root.Bucket([]byte(ns)), nil
}

func keyBucket(nb *bolt.Bucket, key string, create bool) (*bolt.Bucket, error) {
	if create {
		return nb.CreateBucketIfNotExists([]byte(key))
	}
	return nb.Bucket([]byte(key)), nil
}

// latestRow returns the highest-versioned row in kb, or nil if kb is empty.
func latestRow(kb *bolt.Bucket) (uint64, *kvRow, error) {
	c := kb.Cursor()
	k, raw := c.Last()
	if k == nil {
		return 0, nil, nil
	}
	var row kvRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return 0, nil, fmt.Errorf("decode kv row: %w", err)
	}
	return binary.BigEndian.Uint64(k), &row, nil
}

// putKV dedups against the current latest value: an identical, non-tombstoned
// put is a no-op rather than a new version, per spec.md §4.A.
func putKV(tx *bolt.Tx, ns, key, value string, ttl, epoch int64) error {
	nb, err := nsBucket(tx, ns, true)
	if err != nil {
		return fmt.Errorf("open kv namespace %s: %w", ns, err)
	}
	kb, err := keyBucket(nb, key, true)
	if err != nil {
		return fmt.Errorf("open kv key %s/%s: %w", ns, key, err)
	}

	version, latest, err := latestRow(kb)
	if err != nil {
		return err
	}
	if latest != nil && !latest.Deleted && latest.Value == value && latest.TTL == ttl {
		return nil
	}

	row := kvRow{Value: value, TTL: ttl, CreatedAt: epoch, Deleted: false}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode kv row %s/%s: %w", ns, key, err)
	}
	return kb.Put(versionKey(version+1), raw)
}

func getKV(tx *bolt.Tx, ns, key string) (string, bool, error) {
	entry, ok, err := getMetadataKV(tx, ns, key)
	if err != nil || !ok || entry.Deleted {
		return "", false, err
	}
	return entry.Value, true, nil
}

func getMetadataKV(tx *bolt.Tx, ns, key string) (*types.KVEntry, bool, error) {
	nb, err := nsBucket(tx, ns, false)
	if err != nil {
		return nil, false, fmt.Errorf("open kv namespace %s: %w", ns, err)
	}
	if nb == nil {
		return nil, false, nil
	}
	kb, err := keyBucket(nb, key, false)
	if err != nil {
		return nil, false, fmt.Errorf("open kv key %s/%s: %w", ns, key, err)
	}
	if kb == nil {
		return nil, false, nil
	}
	version, row, err := latestRow(kb)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	return &types.KVEntry{
		Namespace: ns,
		Key:       key,
		Value:     row.Value,
		Version:   int64(version),
		TTL:       row.TTL,
		CreatedAt: row.CreatedAt,
		Deleted:   row.Deleted,
	}, true, nil
}

// deleteKV appends a tombstone version rather than removing history, so gc
// can later prune it on its own schedule.
func deleteKV(tx *bolt.Tx, ns, key string, epoch int64) error {
	nb, err := nsBucket(tx, ns, false)
	if err != nil {
		return fmt.Errorf("open kv namespace %s: %w", ns, err)
	}
	if nb == nil {
		return nil
	}
	kb, err := keyBucket(nb, key, false)
	if err != nil {
		return fmt.Errorf("open kv key %s/%s: %w", ns, key, err)
	}
	if kb == nil {
		return nil
	}
	version, latest, err := latestRow(kb)
	if err != nil {
		return err
	}
	if latest == nil || latest.Deleted {
		return nil
	}
	row := kvRow{Value: latest.Value, TTL: latest.TTL, CreatedAt: epoch, Deleted: true}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode kv tombstone %s/%s: %w", ns, key, err)
	}
	return kb.Put(versionKey(version+1), raw)
}

func listKeysKV(tx *bolt.Tx, ns string) ([]string, error) {
	nb, err := nsBucket(tx, ns, false)
	if err != nil {
		return nil, fmt.Errorf("open kv namespace %s: %w", ns, err)
	}
	if nb == nil {
		return nil, nil
	}
	var keys []string
	err = nb.ForEach(func(k []byte, v []byte) error {
		if v != nil {
			return nil // not a bucket, skip
		}
		kb := nb.Bucket(k)
		_, row, err := latestRow(kb)
		if err != nil {
			return err
		}
		if row != nil && !row.Deleted {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// deleteNamespaceKV hard-purges an entire namespace, used by the inventory
// reconciler when a host disappears from the fleet (supplemented from
// original_source/gc.py; see SPEC_FULL.md).
func deleteNamespaceKV(tx *bolt.Tx, ns string, _ int64) error {
	root := tx.Bucket(bucketKV)
	if root.Bucket([]byte(ns)) == nil {
		return nil
	}
	return root.DeleteBucket([]byte(ns))
}

// gcKV runs the two pruning passes spec.md §4.A describes: tombstones older
// than maxDays are dropped entirely, and any key's historical versions
// beyond keepVersions-behind-the-current-max are dropped.
func gcKV(tx *bolt.Tx, maxDays int, now int64) (int, error) {
	cutoff := now - int64(maxDays)*86400
	deleted := 0

	root := tx.Bucket(bucketKV)
	nsNames := collectSubBucketNames(root)
	for _, nsName := range nsNames {
		nb := root.Bucket(nsName)
		keyNames := collectSubBucketNames(nb)
		for _, keyName := range keyNames {
			kb := nb.Bucket(keyName)
			n, purgeKey, err := gcKeyBucket(kb, cutoff)
			if err != nil {
				return deleted, err
			}
			deleted += n
			if purgeKey {
				if err := nb.DeleteBucket(keyName); err != nil {
					return deleted, err
				}
			}
		}
	}
	return deleted, nil
}

// gcKeyBucket prunes old versions in kb. It returns the number of rows
// deleted and whether kb ended up empty (latest row was an aged tombstone)
// and should be removed entirely by the caller.
func gcKeyBucket(kb *bolt.Bucket, cutoff int64) (int, bool, error) {
	type ver struct {
		version uint64
		row     kvRow
	}
	var all []ver
	c := kb.Cursor()
	for k, raw := c.First(); k != nil; k, raw = c.Next() {
		var row kvRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return 0, false, fmt.Errorf("decode kv row during gc: %w", err)
		}
		all = append(all, ver{binary.BigEndian.Uint64(k), row})
	}
	if len(all) == 0 {
		return 0, true, nil
	}

	maxVersion := all[len(all)-1].version
	deleted := 0

	for _, v := range all {
		isOld := v.version+keepVersions <= maxVersion
		isAgedTombstone := v.row.Deleted && v.row.CreatedAt < cutoff
		if (isOld || isAgedTombstone) && v.version != maxVersion {
			if err := kb.Delete(versionKey(v.version)); err != nil {
				return deleted, false, err
			}
			deleted++
		}
	}

	// if the sole remaining row is an aged tombstone, drop the key entirely
	_, latest, err := latestRow(kb)
	if err != nil {
		return deleted, false, err
	}
	if latest != nil && latest.Deleted && latest.CreatedAt < cutoff {
		cnt := kb.Stats().KeyN
		if cnt <= 1 {
			return deleted, true, nil
		}
	}
	return deleted, false, nil
}

func collectSubBucketNames(b *bolt.Bucket) [][]byte {
	var names [][]byte
	_ = b.ForEach(func(k, v []byte) error {
		if v == nil {
			cp := make([]byte, len(k))
			copy(cp, k)
			names = append(names, cp)
		}
		return nil
	})
	return names
}
