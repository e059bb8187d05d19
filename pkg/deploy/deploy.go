// Package deploy implements the deployment orchestrator (spec.md §4.I):
// for each deployment tier, in ascending order, it stages every in-scope
// job's files onto its assigned hosts, uploads them, and walks the
// new/changed/unchanged/removed allocations through the run_target hook
// sequence, persisting the resulting content hashes as it goes.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/maand-sh/maand/pkg/command"
	"github.com/maand-sh/maand/pkg/log"
	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/vars"
	"github.com/maand-sh/maand/pkg/workspace"
)

// Result summarizes one deploy run.
type Result struct {
	TiersWalked  int
	JobsDeployed int
}

// Run walks deployment tiers 0..max in ascending order, staging, diffing,
// and transitioning every in-scope job (onlyJobs, or every job when empty),
// per spec.md §4.I. Unlike build, deploy commits once per tier so partial
// progress survives a later tier's failure (spec.md §7).
func Run(ctx context.Context, store storage.Store, root string, onlyJobs []string) (*Result, error) {
	logger := log.WithComponent("deploy")
	timer := metrics.NewTimer()

	config, err := workspace.LoadControllerConfig(filepath.Join(root, "maand.conf"))
	if err != nil {
		return nil, err
	}

	allJobs, err := store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	scope := inScope(allJobs, onlyJobs)

	tiers := tierOrder(scope)
	result := &Result{}
	stagingRoot := filepath.Join(root, ".maand", "staging")

	for _, seq := range tiers {
		jobsInTier := scope[seq]
		sort.Slice(jobsInTier, func(i, j int) bool { return jobsInTier[i].Name < jobsInTier[j].Name })

		tx, err := store.Begin(true)
		if err != nil {
			return result, fmt.Errorf("begin deploy tier %d transaction: %w", seq, err)
		}
		committed := false
		func() {
			defer func() {
				if !committed {
					_ = tx.Rollback()
				}
			}()

			bucket, berr := tx.GetBucket()
			if berr != nil {
				err = fmt.Errorf("load bucket: %w", berr)
				return
			}
			if bucket == nil {
				err = fmt.Errorf("workspace not initialized: run `maand init` first")
				return
			}

			executor := &command.Executor{
				Store:      tx,
				Bucket:     bucket,
				Config:     config,
				AllJobs:    allJobs,
				ScratchDir: filepath.Join(root, ".maand", "scratch"),
			}

			for _, job := range jobsInTier {
				if derr := deployJob(ctx, tx, executor, config, bucket, job, stagingRoot); derr != nil {
					err = derr
					return
				}
				result.JobsDeployed++
				metrics.JobsDeployedTotal.WithLabelValues("deploy", "success").Inc()
			}

			if cerr := tx.Commit(); cerr != nil {
				err = fmt.Errorf("commit deploy tier %d: %w", seq, cerr)
				return
			}
			committed = true
		}()

		if err != nil {
			timer.ObserveDurationVec(metrics.DeploymentDuration, "failure")
			return result, err
		}

		result.TiersWalked++
		logger.Info().Int("tier", seq).Int("jobs", len(jobsInTier)).Msg("deployment tier complete")
	}

	if err := bumpUpdateSeq(store); err != nil {
		timer.ObserveDurationVec(metrics.DeploymentDuration, "failure")
		return result, err
	}

	timer.ObserveDurationVec(metrics.DeploymentDuration, "success")
	return result, nil
}

// bumpUpdateSeq advances the bucket's update_seq by exactly one per
// successful deploy run (spec.md §3), independent of how many tiers or
// jobs it touched.
func bumpUpdateSeq(store storage.Store) error {
	tx, err := store.Begin(true)
	if err != nil {
		return fmt.Errorf("begin update_seq transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	bucket, err := tx.GetBucket()
	if err != nil {
		return fmt.Errorf("load bucket: %w", err)
	}
	if bucket == nil {
		return fmt.Errorf("workspace not initialized: run `maand init` first")
	}
	bucket.UpdateSeq++
	if err := tx.SaveBucket(bucket); err != nil {
		return fmt.Errorf("save bucket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update_seq bump: %w", err)
	}
	committed = true
	return nil
}

// deployJob runs the full per-job algorithm of spec.md §4.I within tx: stage
// every assigned host, upload, transition new/changed/unchanged/removed
// allocations through run_target, then persist collapsed content hashes.
func deployJob(ctx context.Context, tx storage.Tx, executor *command.Executor, cfg *types.ControllerConfig, bucket *types.Bucket, job *types.Job, stagingRoot string) error {
	allocations, err := tx.ListAllocationsByJob(job.Name)
	if err != nil {
		return fmt.Errorf("list allocations for job %s: %w", job.Name, err)
	}
	if len(allocations) == 0 {
		return nil
	}

	agentDir := agentDirFor(bucket)

	for _, a := range allocations {
		if err := stageAllocation(tx, job, a, bucket, stagingRoot); err != nil {
			return err
		}
		if err := Upload(ctx, cfg, a.HostIP, filepath.Join(stagingRoot, a.HostIP), agentDir, []string{job.Name}); err != nil {
			return err
		}
	}

	counts := countTransitions(allocations)
	for kind, n := range map[string]int{"new": counts.New, "unchanged": counts.Unchanged, "changed": counts.Changed, "removed": counts.Removed} {
		if n > 0 {
			metrics.AllocationTransitionsTotal.WithLabelValues(kind).Add(float64(n))
		}
	}

	removed := byTransition(allocations, types.TransitionRemoved)
	if len(removed) > 0 {
		withdrawing := len(removed) == len(allocations)
		if withdrawing {
			if err := RunTarget(ctx, executor, cfg, bucket.BucketID, job, "stop", removed, false, false, agentDir); err != nil {
				return err
			}
		} else {
			if err := RunTarget(ctx, executor, cfg, bucket.BucketID, job, "stop", removed, true, false, agentDir); err != nil {
				return err
			}
		}
		for _, a := range removed {
			a.PreviousHash = a.CurrentHash
			if err := tx.UpsertAllocation(a); err != nil {
				return fmt.Errorf("persist withdrawn allocation %s/%s: %w", a.HostIP, a.Job, err)
			}
		}
	}

	newAllocs := byTransition(allocations, types.TransitionNew)
	changedAllocs := byTransition(allocations, types.TransitionChanged)

	switch {
	case len(newAllocs) > 0:
		// New allocations always get the job-level gate; spec.md §4.I treats
		// "any new" as a fleet-wide rollout regardless of partial/full scope.
		if err := RunTarget(ctx, executor, cfg, bucket.BucketID, job, "start", newAllocs, false, true, agentDir); err != nil {
			return err
		}
	case len(changedAllocs) > 0:
		// Whether the change is partial (changed < total) or total, restart
		// only the changed allocations, gated per-allocation.
		if err := RunTarget(ctx, executor, cfg, bucket.BucketID, job, "restart", changedAllocs, true, false, agentDir); err != nil {
			return err
		}
	}

	for _, a := range allocations {
		if a.Removed {
			continue
		}
		// Recompute before collapsing: a.CurrentHash may be stale relative to
		// the job this deploy just staged, so step 6 derives it fresh rather
		// than trusting whatever build last wrote (spec.md §4.I step 6).
		a.CurrentHash = ContentHash(job, a.Disabled)
		a.PreviousHash = a.CurrentHash
		if err := tx.UpsertAllocation(a); err != nil {
			return fmt.Errorf("persist allocation %s/%s: %w", a.HostIP, a.Job, err)
		}
	}

	return nil
}

func stageAllocation(tx storage.Tx, job *types.Job, a *types.Allocation, bucket *types.Bucket, stagingRoot string) error {
	hostDir := filepath.Join(stagingRoot, a.HostIP)
	if err := os.RemoveAll(filepath.Join(hostDir, "jobs", job.Name)); err != nil {
		return fmt.Errorf("clear staging dir for %s/%s: %w", a.HostIP, job.Name, err)
	}

	host, err := tx.GetHost(a.HostIP)
	if err != nil {
		return fmt.Errorf("load host %s: %w", a.HostIP, err)
	}
	if host == nil {
		return fmt.Errorf("allocation %s/%s references unknown host", a.HostIP, job.Name)
	}
	clusterVars, err := vars.Read(tx, "cluster")
	if err != nil {
		return err
	}
	hostVars, err := vars.Read(tx, "host/"+a.HostIP)
	if err != nil {
		return err
	}
	jobVars, err := vars.Read(tx, "job/"+job.Name)
	if err != nil {
		return err
	}
	merged := map[string]string{}
	for k, v := range clusterVars {
		merged[k] = v
	}
	for k, v := range hostVars {
		merged[k] = v
	}
	for k, v := range jobVars {
		merged[k] = v
	}

	if err := StageHostIdentity(tx, a.HostIP, hostDir); err != nil {
		return err
	}
	if err := StageJob(tx, job, a.HostIP, hostDir, merged); err != nil {
		return err
	}

	assigned, err := hostJobAssignments(tx, a.HostIP)
	if err != nil {
		return err
	}
	return WriteHostSidecars(hostDir, host, bucket, assigned)
}

// hostJobAssignments reflects every non-removed allocation on hostIP, not
// just the job currently being staged: jobs.json is a root-level sidecar
// file rsync re-syncs on every job's deploy, so it must always describe the
// host's complete job set.
func hostJobAssignments(tx storage.Tx, hostIP string) (map[string]bool, error) {
	allocs, err := tx.ListAllocationsByHost(hostIP)
	if err != nil {
		return nil, fmt.Errorf("list allocations for host %s: %w", hostIP, err)
	}
	out := map[string]bool{}
	for _, a := range allocs {
		if a.Removed {
			continue
		}
		out[a.Job] = a.Disabled
	}
	return out, nil
}

func agentDirFor(bucket *types.Bucket) string {
	return filepath.Join("/opt", bucket.BucketID)
}

// inScope buckets jobs by DeploymentSeq, restricted to onlyJobs when given.
func inScope(allJobs []*types.Job, onlyJobs []string) map[int][]*types.Job {
	var filter map[string]bool
	if len(onlyJobs) > 0 {
		filter = map[string]bool{}
		for _, n := range onlyJobs {
			filter[n] = true
		}
	}
	out := map[int][]*types.Job{}
	for _, j := range allJobs {
		if filter != nil && !filter[j.Name] {
			continue
		}
		out[j.DeploymentSeq] = append(out[j.DeploymentSeq], j)
	}
	return out
}

func tierOrder(scope map[int][]*types.Job) []int {
	var seqs []int
	for seq := range scope {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}
