package deploy

import (
	"context"
	"sort"

	"github.com/maand-sh/maand/pkg/command"
	"github.com/maand-sh/maand/pkg/health"
	"github.com/maand-sh/maand/pkg/types"
)

// RunTarget is the atomic unit spec.md §4.I names: pre_<action> hooks over
// the full allocation set, job_control (or the on-host runner when the job
// defines no job_control command), then post_<action>, with an optional
// per-allocation and/or job-level health gate run in between using the
// extended deploy-path health.Config (spec.md §5).
func RunTarget(ctx context.Context, executor *command.Executor, cfg *types.ControllerConfig, bucketID string, job *types.Job, action string, allocations []*types.Allocation, allocGate, jobGate bool, agentDir string) error {
	if err := runHooks(ctx, executor, job, types.EventPreDeploy, action, allocations, agentDir); err != nil {
		return err
	}

	jobControlCmds := command.CommandsForEvent(job, types.EventJobControl)
	if len(jobControlCmds) > 0 {
		for _, c := range jobControlCmds {
			if err := executor.RunCommand(ctx, job, c.Name, types.EventJobControl, action, allocations, agentDir); err != nil {
				return err
			}
		}
	} else if err := runOnHostRunner(ctx, cfg, bucketID, job, action, allocations, agentDir); err != nil {
		return err
	}

	if allocGate {
		if err := runHealthCheck(ctx, executor, job, allocations, agentDir, health.DeployConfig()); err != nil {
			return err
		}
	}
	if jobGate {
		if err := runHealthCheck(ctx, executor, job, allocations, agentDir, health.DeployConfig()); err != nil {
			return err
		}
	}

	return runHooks(ctx, executor, job, types.EventPostDeploy, action, allocations, agentDir)
}

func runHooks(ctx context.Context, executor *command.Executor, job *types.Job, event types.HookEvent, action string, allocations []*types.Allocation, agentDir string) error {
	for _, c := range command.CommandsForEvent(job, event) {
		if err := executor.RunCommand(ctx, job, c.Name, event, action, allocations, agentDir); err != nil {
			return err
		}
	}
	return nil
}

func runHealthCheck(ctx context.Context, executor *command.Executor, job *types.Job, allocations []*types.Allocation, agentDir string, cfg health.Config) error {
	for _, c := range command.CommandsForEvent(job, types.EventHealthCheck) {
		if err := executor.RunHealthCheckHook(ctx, job, c.Name, allocations, agentDir, cfg); err != nil {
			return err
		}
	}
	return nil
}

// runOnHostRunner invokes the out-of-scope on-host runner over ssh for
// every allocation's host, in ascending host-IP order (spec.md §5 ordering
// guarantee #3), for jobs that declare no job_control command of their own.
func runOnHostRunner(ctx context.Context, cfg *types.ControllerConfig, bucketID string, job *types.Job, action string, allocations []*types.Allocation, agentDir string) error {
	ordered := append([]*types.Allocation{}, allocations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].HostIP < ordered[j].HostIP })
	for _, a := range ordered {
		if err := InvokeRunner(ctx, cfg, a.HostIP, agentDir, bucketID, action, []string{job.Name}); err != nil {
			return err
		}
	}
	return nil
}
