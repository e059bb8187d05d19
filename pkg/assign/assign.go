// Package assign implements the assigner (spec.md §4.E): it computes the
// job→host allocation set by label-set matching, reconciles it against
// prior allocations (marking vanished ones removed rather than deleting
// them outright), and applies the three-tiered disablement rule.
package assign

import (
	"fmt"
	"sort"

	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
)

// Assign computes allocations for the given hosts and jobs, reconciling
// them against whatever allocations already exist in the store. Unchanged
// allocations are updated in place; ones no longer implied by a label
// match are marked Removed rather than deleted, so one more deploy cycle
// can stop them on the target (spec.md §3 Lifecycles).
func Assign(tx storage.Tx, hosts []*types.Host, jobs []*types.Job, disabled *types.DisabledOverrides) ([]*types.Allocation, error) {
	hostsByIP := map[string]*types.Host{}
	for _, h := range hosts {
		hostsByIP[h.HostIP] = h
	}

	wanted := map[string]bool{} // "<hostIP>/<job>"
	var result []*types.Allocation

	sortedHosts := append([]*types.Host{}, hosts...)
	sort.Slice(sortedHosts, func(i, j int) bool { return sortedHosts[i].Position < sortedHosts[j].Position })

	var jobNames []string
	for _, j := range jobs {
		jobNames = append(jobNames, j.Name)
	}
	sort.Strings(jobNames)
	jobsByName := map[string]*types.Job{}
	for _, j := range jobs {
		jobsByName[j.Name] = j
	}

	for _, jobName := range jobNames {
		job := jobsByName[jobName]
		if len(job.Labels) == 0 {
			continue
		}
		for _, h := range sortedHosts {
			if !labelsSubset(job.Labels, h.Labels) {
				continue
			}
			key := h.HostIP + "/" + job.Name
			wanted[key] = true

			existing, err := tx.GetAllocation(h.HostIP, job.Name)
			if err != nil {
				return nil, fmt.Errorf("load allocation %s: %w", key, err)
			}

			a := &types.Allocation{HostID: h.HostID, HostIP: h.HostIP, Job: job.Name}
			if existing != nil {
				a.CurrentHash = existing.CurrentHash
				a.PreviousHash = existing.PreviousHash
			}
			a.Removed = false
			a.Disabled = disabledFor(h, job.Name, disabled) || h.Detained

			if err := tx.UpsertAllocation(a); err != nil {
				return nil, fmt.Errorf("upsert allocation %s: %w", key, err)
			}
			result = append(result, a)
		}
	}

	existingAllocs, err := tx.ListAllocations()
	if err != nil {
		return nil, fmt.Errorf("list existing allocations: %w", err)
	}
	for _, a := range existingAllocs {
		key := a.HostIP + "/" + a.Job
		if wanted[key] {
			continue
		}
		if a.Removed {
			continue
		}
		a.Removed = true
		if h, ok := hostsByIP[a.HostIP]; ok {
			a.Disabled = a.Disabled || h.Detained
		}
		if err := tx.UpsertAllocation(a); err != nil {
			return nil, fmt.Errorf("mark allocation %s removed: %w", key, err)
		}
		metrics.AllocationTransitionsTotal.WithLabelValues("withdrawn").Inc()
		result = append(result, a)
	}

	return result, nil
}

// labelsSubset reports whether every label in job is present in host.
func labelsSubset(job, host []string) bool {
	hostSet := map[string]bool{}
	for _, l := range host {
		hostSet[l] = true
	}
	for _, l := range job {
		if !hostSet[l] {
			return false
		}
	}
	return true
}

// disabledFor implements the three-tiered disablement rule of spec.md
// §4.E: any one of {host in disabled.agents, host in
// disabled.jobs[job].agents, disabled.jobs[job] present with empty
// agents} suffices.
func disabledFor(h *types.Host, job string, disabled *types.DisabledOverrides) bool {
	if disabled == nil {
		return false
	}
	for _, ip := range disabled.Agents {
		if ip == h.HostIP {
			return true
		}
	}
	jobOverride, ok := disabled.Jobs[job]
	if !ok {
		return false
	}
	if len(jobOverride.Agents) == 0 {
		return true
	}
	for _, ip := range jobOverride.Agents {
		if ip == h.HostIP {
			return true
		}
	}
	return false
}
