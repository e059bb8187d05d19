// Package reconcile implements the inventory reconciler (spec.md §4.C):
// for each inventory host it upserts the host row (preserving host_id
// across runs), replaces its label/tag sets, and detains any host that
// has vanished from the workspace, purging the KV namespaces it owned.
package reconcile

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/maand-sh/maand/pkg/log"
	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/workspace"
)

// agentLabel is appended to every host's label set unconditionally
// (spec.md §3: "agent is always appended"; supplemented from
// original_source/build/build_agents.go, which does this at upsert time
// rather than only at assignment time).
const agentLabel = "agent"

// detainedAtTag records when a host first transitioned to detained, so
// storage.GC's detained-host sweep (supplemented from
// original_source/gc.py) knows how long it has been idle.
const detainedAtTag = "_detained_at"

// Inventory ingests workspace/agents.json, upserting each host and
// detaining any previously known host absent from the current list. It
// returns the full host set (ascending Position), ready for the variable
// composer and assigner.
func Inventory(tx storage.Tx, hosts []types.InventoryHost, now int64) ([]*types.Host, error) {
	logger := log.WithComponent("reconcile")

	seen := map[string]bool{}
	var result []*types.Host

	for position, entry := range hosts {
		existing, err := tx.GetHost(entry.Host)
		if err != nil {
			return nil, fmt.Errorf("load host %s: %w", entry.Host, err)
		}

		h := &types.Host{HostIP: entry.Host, Position: position}
		if existing != nil {
			h.HostID = existing.HostID
		} else {
			h.HostID = uuid.New().String()
		}

		h.Labels = normalizeLabels(entry.Labels)
		h.Tags = map[string]string{}
		for k, v := range entry.Tags {
			h.Tags[k] = v
		}

		if entry.Memory != "" {
			mb, err := workspace.ExtractSizeMB(entry.Memory)
			if err != nil {
				return nil, fmt.Errorf("host %s memory: %w", entry.Host, err)
			}
			h.MemoryMB = int64(mb)
		}
		if entry.CPU != "" {
			mhz, err := workspace.ExtractCPUMHz(entry.CPU)
			if err != nil {
				return nil, fmt.Errorf("host %s cpu: %w", entry.Host, err)
			}
			h.CPUMHz = int64(mhz)
		}

		h.Detained = false
		if err := tx.UpsertHost(h); err != nil {
			return nil, fmt.Errorf("upsert host %s: %w", entry.Host, err)
		}

		if h.MemoryMB != 0 {
			if err := tx.Put("host/"+h.HostIP, "memory", strconv.FormatInt(h.MemoryMB, 10), 0); err != nil {
				return nil, fmt.Errorf("record host %s memory: %w", entry.Host, err)
			}
		}
		if h.CPUMHz != 0 {
			if err := tx.Put("host/"+h.HostIP, "cpu", strconv.FormatInt(h.CPUMHz, 10), 0); err != nil {
				return nil, fmt.Errorf("record host %s cpu: %w", entry.Host, err)
			}
		}

		seen[entry.Host] = true
		result = append(result, h)
	}

	existingHosts, err := tx.ListHosts()
	if err != nil {
		return nil, fmt.Errorf("list existing hosts: %w", err)
	}
	for _, h := range existingHosts {
		if seen[h.HostIP] {
			continue
		}
		if !h.Detained {
			logger.Warn().Str("host_ip", h.HostIP).Msg("host vanished from inventory, detaining")
			if h.Tags == nil {
				h.Tags = map[string]string{}
			}
			h.Tags[detainedAtTag] = strconv.FormatInt(now, 10)
		}
		h.Detained = true
		if err := tx.UpsertHost(h); err != nil {
			return nil, fmt.Errorf("detain host %s: %w", h.HostIP, err)
		}
		if err := purgeDetainedNamespaces(tx, h.HostIP); err != nil {
			return nil, err
		}
		metrics.AllocationTransitionsTotal.WithLabelValues("host_detained").Inc()
	}

	return result, nil
}

// purgeDetainedNamespaces removes the three KV namespaces spec.md §4.C
// names for a host that has just been detained: its archived certs, its
// recorded resources, and its composed variables.
func purgeDetainedNamespaces(tx storage.Tx, hostIP string) error {
	for _, ns := range []string{
		"maand/certs/host/" + hostIP,
		"host/" + hostIP,
		"vars/host/" + hostIP,
	} {
		if err := tx.DeleteNamespace(ns); err != nil {
			return fmt.Errorf("purge namespace %s: %w", ns, err)
		}
	}
	return nil
}

func normalizeLabels(labels []string) []string {
	seen := map[string]bool{agentLabel: true}
	out := []string{agentLabel}
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
