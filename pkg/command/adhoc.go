package command

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maand-sh/maand/pkg/health"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
)

// RunCommandOptions configures the standalone `run-command` CLI
// (spec.md §6, supplemented from original_source/run_command.py).
type RunCommandOptions struct {
	Agents      []string // exact host IPs; empty means "don't filter by agent"
	Labels      []string // host must carry every label listed
	Command     string   // inline shell command
	File        string   // path to a script to upload and execute instead of Command
	Local       bool     // run on the controller machine instead of over ssh
	HealthCheck bool     // gate each target's assigned jobs' health_check hook afterward
	Concurrency int

	// DisableClusterCheck bypasses the normal "host currently holds an
	// allocation" filter, letting an operator target a host that isn't
	// assigned any job yet (original_source/run_command.py).
	DisableClusterCheck bool
}

// RunAdHoc resolves the target hosts from opts.Agents/opts.Labels, runs
// opts.Command (or opts.File) on each — over ssh, or locally when
// opts.Local is set — and optionally gates the result with each target's
// assigned jobs' health_check hook. The first target failure fails the
// whole run; in-flight targets are allowed to finish.
func RunAdHoc(ctx context.Context, tx storage.Tx, bucket *types.Bucket, cfg *types.ControllerConfig, allJobs []*types.Job, hosts []*types.Host, agentDirBase string, opts RunCommandOptions) error {
	if opts.Command == "" && opts.File == "" {
		return fmt.Errorf("run-command requires --cmd or a script file")
	}

	targets, err := resolveTargets(tx, hosts, opts)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no hosts matched --agents/--labels")
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].HostIP < targets[j].HostIP })

	concurrency := opts.Concurrency
	if concurrency <= 0 || concurrency > len(targets) {
		concurrency = len(targets)
	}
	sem := make(chan struct{}, concurrency)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, h := range targets {
		h := h
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			canceled := firstErr != nil
			mu.Unlock()
			if canceled {
				return
			}

			if err := runAdHocOne(runCtx, cfg, h, opts); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}

			if opts.HealthCheck {
				if err := gateAssignedJobs(runCtx, tx, bucket, cfg, allJobs, h, agentDirBase); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	return firstErr
}

func resolveTargets(tx storage.Tx, hosts []*types.Host, opts RunCommandOptions) ([]*types.Host, error) {
	var byFilter []*types.Host
	agents := map[string]bool{}
	for _, a := range opts.Agents {
		agents[a] = true
	}

	for _, h := range hosts {
		if h.Detained {
			continue
		}
		if len(agents) > 0 && !agents[h.HostIP] {
			continue
		}
		if len(opts.Labels) > 0 && !hasAllLabels(h, opts.Labels) {
			continue
		}
		byFilter = append(byFilter, h)
	}

	if opts.DisableClusterCheck {
		return byFilter, nil
	}

	var out []*types.Host
	for _, h := range byFilter {
		allocs, err := tx.ListAllocationsByHost(h.HostIP)
		if err != nil {
			return nil, fmt.Errorf("list allocations for host %s: %w", h.HostIP, err)
		}
		held := false
		for _, a := range allocs {
			if !a.Removed {
				held = true
				break
			}
		}
		if held {
			out = append(out, h)
		}
	}
	return out, nil
}

func hasAllLabels(h *types.Host, labels []string) bool {
	for _, l := range labels {
		if !h.HasLabel(l) {
			return false
		}
	}
	return true
}

func runAdHocOne(ctx context.Context, cfg *types.ControllerConfig, h *types.Host, opts RunCommandOptions) error {
	script := opts.Command
	if opts.File != "" {
		raw, err := os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.File, err)
		}
		script = string(raw)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, invocationTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if opts.Local {
		cmd = exec.CommandContext(timeoutCtx, "sh", "-c", script)
	} else {
		remote := script
		if cfg.UseSudo {
			remote = "sudo sh -c " + shellQuote(script)
		}
		args := []string{"-o", "StrictHostKeyChecking=no"}
		if cfg.SSHKey != "" {
			args = append(args, "-i", cfg.SSHKey)
		}
		target := h.HostIP
		if cfg.SSHUser != "" {
			target = cfg.SSHUser + "@" + h.HostIP
		}
		args = append(args, target, remote)
		cmd = exec.CommandContext(timeoutCtx, "ssh", args...)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run-command on %s failed: %w: %s", h.HostIP, err, truncateOutput(string(out), 2000))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncateOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

func gateAssignedJobs(ctx context.Context, tx storage.Tx, bucket *types.Bucket, cfg *types.ControllerConfig, allJobs []*types.Job, h *types.Host, agentDirBase string) error {
	allocs, err := tx.ListAllocationsByHost(h.HostIP)
	if err != nil {
		return fmt.Errorf("list allocations for host %s: %w", h.HostIP, err)
	}

	executor := &Executor{Store: tx, Bucket: bucket, Config: cfg, AllJobs: allJobs, ScratchDir: agentDirBase + "/.scratch"}

	for _, a := range allocs {
		if a.Removed {
			continue
		}
		job := jobByName(allJobs, a.Job)
		if job == nil {
			continue
		}
		for _, c := range CommandsForEvent(job, types.EventHealthCheck) {
			if err := executor.RunHealthCheckHook(ctx, job, c.Name, []*types.Allocation{a}, agentDirBase, health.DefaultConfig()); err != nil {
				return err
			}
		}
	}
	return nil
}

func jobByName(jobs []*types.Job, name string) *types.Job {
	for _, j := range jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// RunHealthCheck runs the health_check hook for jobNames (every job with
// one when jobNames is empty), across every currently active allocation.
// wait applies the standard retry budget (health.DefaultConfig); without
// it, each allocation gets a single attempt.
func RunHealthCheck(ctx context.Context, tx storage.Tx, bucket *types.Bucket, cfg *types.ControllerConfig, allJobs []*types.Job, jobNames []string, wait bool, agentDirBase string) error {
	gateCfg := health.Config{Interval: 5 * time.Second, Attempts: 1}
	if wait {
		gateCfg = health.DefaultConfig()
	}

	executor := &Executor{Store: tx, Bucket: bucket, Config: cfg, AllJobs: allJobs, ScratchDir: agentDirBase + "/.scratch"}

	for _, job := range selectJobs(allJobs, jobNames) {
		cmds := CommandsForEvent(job, types.EventHealthCheck)
		if len(cmds) == 0 {
			continue
		}
		allocs, err := tx.ListAllocationsByJob(job.Name)
		if err != nil {
			return fmt.Errorf("list allocations for job %s: %w", job.Name, err)
		}
		var active []*types.Allocation
		for _, a := range allocs {
			if !a.Removed {
				active = append(active, a)
			}
		}
		if len(active) == 0 {
			continue
		}
		for _, c := range cmds {
			if err := executor.RunHealthCheckHook(ctx, job, c.Name, active, agentDirBase, gateCfg); err != nil {
				return err
			}
		}
	}
	return nil
}

func selectJobs(allJobs []*types.Job, jobNames []string) []*types.Job {
	if len(jobNames) == 0 {
		return allJobs
	}
	filter := map[string]bool{}
	for _, n := range jobNames {
		filter[n] = true
	}
	var out []*types.Job
	for _, j := range allJobs {
		if filter[j.Name] {
			out = append(out, j)
		}
	}
	return out
}
