// Package validate implements the validator (spec.md §4.F): resource
// budget checks (min<=alloc<=max, sum<=host capacity) and port uniqueness
// across job manifests. It runs after assignment and, on any violation,
// fails the whole build so the caller can roll back the transaction.
package validate

import (
	"fmt"
	"sort"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/workspace"
)

// AllocatedResources resolves the memory/cpu a job actually requests,
// following the same override-or-max rule the variable composer uses
// (spec.md §4.G): an override from maand.jobs.conf wins, else the job's
// max limit.
func AllocatedResources(job *types.Job, jobVars workspace.JobVariables) (memoryMB, cpuMHz float64, err error) {
	memoryMB = float64(job.MaxMemoryMB)
	cpuMHz = float64(job.MaxCPUMHz)
	if overrides, ok := jobVars[job.Name]; ok {
		if v, ok := overrides["memory"]; ok && v != "" {
			mb, err := workspace.ExtractSizeMB(v)
			if err != nil {
				return 0, 0, fmt.Errorf("job %s memory override: %w", job.Name, err)
			}
			memoryMB = mb
		}
		if v, ok := overrides["cpu"]; ok && v != "" {
			mhz, err := workspace.ExtractCPUMHz(v)
			if err != nil {
				return 0, 0, fmt.Errorf("job %s cpu override: %w", job.Name, err)
			}
			cpuMHz = mhz
		}
	}
	return memoryMB, cpuMHz, nil
}

// Validate checks every resource and port invariant in spec.md §4.F/§8.
// allocations must already reflect the current assignment pass (disabled
// or removed allocations still occupy resources budget-wise only while
// active; this implementation follows the source convention of counting
// every non-removed allocation, since a disabled-but-assigned job still
// physically runs until the next deploy stops it).
func Validate(hosts []*types.Host, jobs []*types.Job, allocations []*types.Allocation, jobVars workspace.JobVariables) error {
	jobsByName := map[string]*types.Job{}
	for _, j := range jobs {
		jobsByName[j.Name] = j
	}

	for _, j := range jobs {
		if j.MinMemoryMB > 0 && j.MaxMemoryMB > 0 && j.MinMemoryMB > j.MaxMemoryMB {
			return errs.ResourceViolation("job %s: min_memory (%d) > max_memory (%d)", j.Name, j.MinMemoryMB, j.MaxMemoryMB)
		}
		if j.MinCPUMHz > 0 && j.MaxCPUMHz > 0 && j.MinCPUMHz > j.MaxCPUMHz {
			return errs.ResourceViolation("job %s: min_cpu (%d) > max_cpu (%d)", j.Name, j.MinCPUMHz, j.MaxCPUMHz)
		}

		memoryMB, cpuMHz, err := AllocatedResources(j, jobVars)
		if err != nil {
			return err
		}
		if j.MinMemoryMB > 0 && j.MaxMemoryMB > 0 && (memoryMB < float64(j.MinMemoryMB) || memoryMB > float64(j.MaxMemoryMB)) {
			return errs.ResourceViolation("job %s: requested memory %.0f outside [%d,%d]", j.Name, memoryMB, j.MinMemoryMB, j.MaxMemoryMB)
		}
		if j.MinCPUMHz > 0 && j.MaxCPUMHz > 0 && (cpuMHz < float64(j.MinCPUMHz) || cpuMHz > float64(j.MaxCPUMHz)) {
			return errs.ResourceViolation("job %s: requested cpu %.0f outside [%d,%d]", j.Name, cpuMHz, j.MinCPUMHz, j.MaxCPUMHz)
		}
	}

	if err := validatePorts(jobs); err != nil {
		return err
	}

	hostsByIP := map[string]*types.Host{}
	for _, h := range hosts {
		hostsByIP[h.HostIP] = h
	}

	memByHost := map[string]float64{}
	cpuByHost := map[string]float64{}
	for _, a := range allocations {
		if a.Removed {
			continue
		}
		job, ok := jobsByName[a.Job]
		if !ok {
			continue
		}
		memoryMB, cpuMHz, err := AllocatedResources(job, jobVars)
		if err != nil {
			return err
		}
		memByHost[a.HostIP] += memoryMB
		cpuByHost[a.HostIP] += cpuMHz
	}

	var hostIPs []string
	for ip := range memByHost {
		hostIPs = append(hostIPs, ip)
	}
	sort.Strings(hostIPs)
	for _, ip := range hostIPs {
		host, ok := hostsByIP[ip]
		if !ok {
			continue
		}
		if host.MemoryMB > 0 && memByHost[ip] > float64(host.MemoryMB) {
			return errs.ResourceViolation("host %s: allocated memory %.0f exceeds capacity %d", ip, memByHost[ip], host.MemoryMB)
		}
		if host.CPUMHz > 0 && cpuByHost[ip] > float64(host.CPUMHz) {
			return errs.ResourceViolation("host %s: allocated cpu %.0f exceeds capacity %d", ip, cpuByHost[ip], host.CPUMHz)
		}
	}

	return nil
}

// validatePorts enforces "for any port P, at most one job declares it"
// (spec.md §3, §8), independent of whether the job has any allocation.
func validatePorts(jobs []*types.Job) error {
	ownersByPort := map[int][]string{}
	for _, j := range jobs {
		for _, port := range j.Ports {
			ownersByPort[port] = append(ownersByPort[port], j.Name)
		}
	}
	var ports []int
	for p := range ownersByPort {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	for _, p := range ports {
		owners := ownersByPort[p]
		if len(owners) > 1 {
			sort.Strings(owners)
			return errs.PortCollision(owners, p)
		}
	}
	return nil
}
