// Package build drives the reconciliation pipeline (spec.md §2): inventory
// reconciliation, job ingestion, assignment, validation, variable
// composition, and certificate issuance, followed by the post_build hook,
// all inside one store transaction that commits only on full success.
package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/maand-sh/maand/pkg/assign"
	"github.com/maand-sh/maand/pkg/certmgr"
	"github.com/maand-sh/maand/pkg/command"
	"github.com/maand-sh/maand/pkg/deploy"
	"github.com/maand-sh/maand/pkg/jobs"
	"github.com/maand-sh/maand/pkg/log"
	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/reconcile"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/validate"
	"github.com/maand-sh/maand/pkg/vars"
	"github.com/maand-sh/maand/pkg/workspace"
)

// Result summarizes one build pipeline pass.
type Result struct {
	Hosts       []*types.Host
	Jobs        []*types.Job
	Allocations []*types.Allocation
	Certs       *certmgr.Result
}

// Run drives C->D->E->F->G->H plus the post_build hook against the
// workspace rooted at root, using store for persistence. Nothing is
// committed until every phase, including post_build, succeeds.
func Run(ctx context.Context, store storage.Store, root string) (*Result, error) {
	logger := log.WithComponent("build")
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BuildPhaseDuration, "total")

	workspaceDir := filepath.Join(root, "workspace")

	config, err := workspace.LoadControllerConfig(filepath.Join(root, "maand.conf"))
	if err != nil {
		return nil, err
	}
	jobsConfPath := workspace.ResolveJobsConfPath(workspaceDir, config.JobsConfPath)
	jobVars, err := workspace.LoadJobVariables(jobsConfPath)
	if err != nil {
		return nil, err
	}

	inventory, err := workspace.LoadInventory(filepath.Join(workspaceDir, "agents.json"))
	if err != nil {
		return nil, err
	}
	disabled, err := workspace.LoadDisabledOverrides(filepath.Join(workspaceDir, "disabled.json"))
	if err != nil {
		return nil, err
	}

	tx, err := store.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("begin build transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	bucket, err := tx.GetBucket()
	if err != nil {
		return nil, fmt.Errorf("load bucket: %w", err)
	}
	if bucket == nil {
		return nil, fmt.Errorf("workspace not initialized: run `maand init` first")
	}

	now := types.Now().Unix()

	hosts, err := reconcile.Inventory(tx, inventory, now)
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	logger.Info().Int("hosts", len(hosts)).Msg("inventory reconciled")

	builtJobs, err := jobs.Build(tx, workspaceDir, jobVars)
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	logger.Info().Int("jobs", len(builtJobs)).Msg("jobs built")

	allocations, err := assign.Assign(tx, hosts, builtJobs, disabled)
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	logger.Info().Int("allocations", len(allocations)).Msg("allocations computed")

	if err := refreshContentHashes(tx, builtJobs, allocations); err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	if err := validate.Validate(hosts, builtJobs, allocations, jobVars); err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	clusterVars, err := workspace.ParseDotenv(filepath.Join(workspaceDir, "maand.vars"))
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	if err := syncVariables(tx, hosts, builtJobs, jobVars, clusterVars); err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	certResult, err := certmgr.Run(tx, bucket, hosts, builtJobs, allocations, config.CertsTTLDays)
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	logger.Info().
		Bool("ca_rotated", certResult.CARotated).
		Int("host_certs", certResult.HostCertsIssued).
		Int("job_certs", certResult.JobCertsIssued).
		Msg("certificates reconciled")

	if err := runPostBuild(ctx, tx, bucket, config, builtJobs, allocations, root); err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit build transaction: %w", err)
	}
	committed = true

	metrics.BuildsTotal.WithLabelValues("success").Inc()
	return &Result{Hosts: hosts, Jobs: builtJobs, Allocations: allocations, Certs: certResult}, nil
}

// refreshContentHashes sets every non-removed allocation's CurrentHash to
// the job's current content hash (spec.md §3's (previous, current) pair),
// so the deploy orchestrator's new/changed/unchanged/removed diff
// (component I, pkg/deploy.ContentHash) has something to compare against.
// Removed allocations keep whatever hash they last carried; deploy collapses
// those once the withdrawal actually runs.
func refreshContentHashes(tx storage.Tx, jobsList []*types.Job, allocations []*types.Allocation) error {
	jobsByName := map[string]*types.Job{}
	for _, j := range jobsList {
		jobsByName[j.Name] = j
	}
	for _, a := range allocations {
		if a.Removed {
			continue
		}
		job, ok := jobsByName[a.Job]
		if !ok {
			continue
		}
		a.CurrentHash = deploy.ContentHash(job, a.Disabled)
		if err := tx.UpsertAllocation(a); err != nil {
			return fmt.Errorf("persist content hash for allocation %s/%s: %w", a.HostIP, a.Job, err)
		}
	}
	return nil
}

// syncVariables composes and writes the cluster-wide, every host's, and
// every job's variable namespace (component G), per spec.md §4.G/§6.
// Detained hosts keep their namespace purged by the reconciler rather than
// repopulated here. A cluster variable or host tag whose name is a reserved
// derived name (vars.IsReservedKey) fails the build with a *vars.KeyError.
func syncVariables(tx storage.Tx, hosts []*types.Host, jobsList []*types.Job, jobVars workspace.JobVariables, clusterVars map[string]string) error {
	clusterKV := map[string]string{}
	for k, v := range clusterVars {
		if vars.IsReservedKey(k) {
			return &vars.KeyError{Key: k, Reason: "cluster variable collides with a reserved derived variable name"}
		}
		clusterKV[vars.Lowercase(k)] = v
	}
	if err := vars.Sync(tx, "cluster", clusterKV); err != nil {
		return err
	}

	for _, h := range hosts {
		if h.Detained {
			continue
		}
		for k := range h.Tags {
			if vars.IsReservedKey(k) {
				return &vars.KeyError{Key: k, Reason: "tag on host " + h.HostIP + " collides with a reserved derived variable name"}
			}
		}
		hostVars := vars.ComposeHostVars(hosts, h)
		if err := vars.Sync(tx, "host/"+h.HostIP, hostVars); err != nil {
			return err
		}
	}

	for _, j := range jobsList {
		overrideMem, overrideCPU, err := rawOverrides(j.Name, jobVars)
		if err != nil {
			return err
		}
		jobVarsMap := vars.ComposeJobVars(j, overrideMem, overrideCPU)
		if err := vars.Sync(tx, "job/"+j.Name, jobVarsMap); err != nil {
			return err
		}
	}
	return nil
}

// rawOverrides reads job's maand.jobs.conf memory/cpu overrides verbatim (0
// meaning "not overridden"), the form vars.ComposeJobVars expects.
func rawOverrides(jobName string, jobVars workspace.JobVariables) (memoryMB, cpuMHz float64, err error) {
	overrides, ok := jobVars[jobName]
	if !ok {
		return 0, 0, nil
	}
	if v, ok := overrides["memory"]; ok && v != "" {
		memoryMB, err = workspace.ExtractSizeMB(v)
		if err != nil {
			return 0, 0, fmt.Errorf("job %s memory override: %w", jobName, err)
		}
	}
	if v, ok := overrides["cpu"]; ok && v != "" {
		cpuMHz, err = workspace.ExtractCPUMHz(v)
		if err != nil {
			return 0, 0, fmt.Errorf("job %s cpu override: %w", jobName, err)
		}
	}
	return memoryMB, cpuMHz, nil
}

// runPostBuild invokes the post_build hook (component K) for every job that
// declares one, across its currently active (non-removed) allocations.
func runPostBuild(ctx context.Context, tx storage.Tx, bucket *types.Bucket, config *types.ControllerConfig, jobsList []*types.Job, allocations []*types.Allocation, root string) error {
	allocsByJob := map[string][]*types.Allocation{}
	for _, a := range allocations {
		if a.Removed {
			continue
		}
		allocsByJob[a.Job] = append(allocsByJob[a.Job], a)
	}

	executor := &command.Executor{
		Store:      tx,
		Bucket:     bucket,
		Config:     config,
		AllJobs:    jobsList,
		ScratchDir: filepath.Join(root, ".maand", "scratch"),
	}

	for _, j := range jobsList {
		allocs := allocsByJob[j.Name]
		if len(allocs) == 0 {
			continue
		}
		for _, c := range command.CommandsForEvent(j, types.EventPostBuild) {
			if err := executor.RunCommand(ctx, j, c.Name, types.EventPostBuild, "", allocs, agentDirFor(bucket)); err != nil {
				return err
			}
		}
	}
	return nil
}

func agentDirFor(bucket *types.Bucket) string {
	return filepath.Join("/opt", bucket.BucketID)
}
