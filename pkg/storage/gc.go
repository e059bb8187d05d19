package storage

import (
	"strconv"

	bolt "go.etcd.io/bbolt"
)

// detainedAtTag is the reserved host tag the inventory reconciler stamps
// when it first marks a host detained, so a later gc run can tell how long
// it has been sitting idle. Supplemented from original_source/gc.py, which
// expires hosts that have been detained past the retention window rather
// than leaving them (and their allocations) around forever.
const detainedAtTag = "_detained_at"

// gcDetainedHosts removes hosts that have been detained for longer than
// maxDays, along with their allocations and KV namespace, so a fleet that
// keeps losing and regaining the same machines doesn't accumulate garbage
// rows indefinitely.
func gcDetainedHosts(tx *bolt.Tx, maxDays int, now int64) (int, error) {
	cutoff := now - int64(maxDays)*86400

	hosts, err := listHosts(tx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, h := range hosts {
		if !h.Detained {
			continue
		}
		raw, ok := h.Tags[detainedAtTag]
		if !ok {
			continue
		}
		detainedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || detainedAt >= cutoff {
			continue
		}

		allocs, err := listAllocationsByHost(tx, h.HostIP)
		if err != nil {
			return expired, err
		}
		for _, a := range allocs {
			if err := deleteAllocation(tx, a.HostIP, a.Job); err != nil {
				return expired, err
			}
		}
		if err := deleteNamespaceKV(tx, "host/"+h.HostIP, now); err != nil {
			return expired, err
		}
		if err := deleteHost(tx, h.HostIP); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
