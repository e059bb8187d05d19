package validate

import (
	"errors"
	"testing"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertKind(t *testing.T, err error, kind errs.Kind) {
	t.Helper()
	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, kind, e.Kind)
}

func TestAllocatedResourcesDefaultsToMax(t *testing.T) {
	job := &types.Job{Name: "api", MaxMemoryMB: 2048, MaxCPUMHz: 1500}
	mem, cpu, err := AllocatedResources(job, workspace.JobVariables{})
	require.NoError(t, err)
	assert.Equal(t, float64(2048), mem)
	assert.Equal(t, float64(1500), cpu)
}

func TestAllocatedResourcesOverrideWins(t *testing.T) {
	job := &types.Job{Name: "api", MaxMemoryMB: 2048, MaxCPUMHz: 1500}
	jobVars := workspace.JobVariables{"api": {"memory": "1 GB", "cpu": "1000 MHZ"}}
	mem, cpu, err := AllocatedResources(job, jobVars)
	require.NoError(t, err)
	assert.Equal(t, float64(1024), mem)
	assert.Equal(t, float64(1000), cpu)
}

func TestValidateMinGreaterThanMax(t *testing.T) {
	jobs := []*types.Job{{Name: "api", MinMemoryMB: 4096, MaxMemoryMB: 2048}}
	err := Validate(nil, jobs, nil, workspace.JobVariables{})
	require.Error(t, err)
	assertKind(t, err, errs.KindResourceViolation)
}

func TestValidateAllocatedOutsideRange(t *testing.T) {
	jobs := []*types.Job{{Name: "api", MinMemoryMB: 512, MaxMemoryMB: 2048}}
	jobVars := workspace.JobVariables{"api": {"memory": "4 GB"}}
	err := Validate(nil, jobs, nil, jobVars)
	require.Error(t, err)
	assertKind(t, err, errs.KindResourceViolation)
}

func TestValidatePortCollision(t *testing.T) {
	jobs := []*types.Job{
		{Name: "api", Ports: map[string]int{"http": 8080}},
		{Name: "metrics", Ports: map[string]int{"http": 8080}},
	}
	err := Validate(nil, jobs, nil, workspace.JobVariables{})
	require.Error(t, err)
	assertKind(t, err, errs.KindPortCollision)
}

func TestValidatePortsUniqueOK(t *testing.T) {
	jobs := []*types.Job{
		{Name: "api", Ports: map[string]int{"http": 8080}},
		{Name: "metrics", Ports: map[string]int{"http": 9090}},
	}
	err := Validate(nil, jobs, nil, workspace.JobVariables{})
	assert.NoError(t, err)
}

func TestValidatePortRegisteredWithoutAllocation(t *testing.T) {
	// spec.md §8: "Job with ports but no allocation: still registered;
	// port uniqueness still applies."
	jobs := []*types.Job{
		{Name: "api", Ports: map[string]int{"http": 8080}},
		{Name: "metrics", Ports: map[string]int{"http": 8080}},
	}
	err := Validate(nil, jobs, nil, workspace.JobVariables{})
	require.Error(t, err)
	assertKind(t, err, errs.KindPortCollision)
}

func TestValidateHostResourceSumExceedsCapacity(t *testing.T) {
	hosts := []*types.Host{{HostIP: "10.0.0.1", MemoryMB: 1024}}
	jobs := []*types.Job{
		{Name: "api", MaxMemoryMB: 768},
		{Name: "metrics", MaxMemoryMB: 768},
	}
	allocations := []*types.Allocation{
		{HostIP: "10.0.0.1", Job: "api"},
		{HostIP: "10.0.0.1", Job: "metrics"},
	}
	err := Validate(hosts, jobs, allocations, workspace.JobVariables{})
	require.Error(t, err)
	assertKind(t, err, errs.KindResourceViolation)
}

func TestValidateHostResourceSumWithinCapacity(t *testing.T) {
	hosts := []*types.Host{{HostIP: "10.0.0.1", MemoryMB: 4096, CPUMHz: 4000}}
	jobs := []*types.Job{
		{Name: "api", MaxMemoryMB: 1024, MaxCPUMHz: 1000},
		{Name: "metrics", MaxMemoryMB: 1024, MaxCPUMHz: 1000},
	}
	allocations := []*types.Allocation{
		{HostIP: "10.0.0.1", Job: "api"},
		{HostIP: "10.0.0.1", Job: "metrics"},
	}
	err := Validate(hosts, jobs, allocations, workspace.JobVariables{})
	assert.NoError(t, err)
}

func TestValidateRemovedAllocationsExcludedFromResourceSum(t *testing.T) {
	hosts := []*types.Host{{HostIP: "10.0.0.1", MemoryMB: 1024}}
	jobs := []*types.Job{
		{Name: "api", MaxMemoryMB: 768},
		{Name: "metrics", MaxMemoryMB: 768},
	}
	allocations := []*types.Allocation{
		{HostIP: "10.0.0.1", Job: "api"},
		{HostIP: "10.0.0.1", Job: "metrics", Removed: true},
	}
	err := Validate(hosts, jobs, allocations, workspace.JobVariables{})
	assert.NoError(t, err)
}
