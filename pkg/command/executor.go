package command

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/health"
	"github.com/maand-sh/maand/pkg/log"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/vars"
)

// invocationTimeout is the per-invocation wall clock spec.md §5 specifies
// for remote commands.
const invocationTimeout = 300 * time.Second

// Executor runs per-job command plugins against a set of allocations,
// assembling each invocation's environment and serving its kv_get/kv_put/
// demands callbacks through a Sidecar (spec.md §4.K).
type Executor struct {
	Store        storage.Tx
	Bucket       *types.Bucket
	Config       *types.ControllerConfig
	AllJobs      []*types.Job
	ScratchDir   string // base directory for per-(host,job,command) scratch roots
	Concurrency  int
}

// CommandsForEvent returns every command job declares for event, in
// manifest order — run_target's pre_<action>/post_<action> hooks can fan
// out to more than one command per event.
func CommandsForEvent(job *types.Job, event types.HookEvent) []types.JobCommand {
	var out []types.JobCommand
	for _, c := range job.Commands {
		for _, e := range c.ExecutedOn {
			if e == event {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// hostVarsFunc / jobVarsFunc resolve a host's or job's composed variable
// namespace, read back from the KV store component G already wrote.
type hostVarsFunc func(hostIP string) (map[string]string, error)
type jobVarsFunc func(jobName string) (map[string]string, error)

func defaultHostVars(tx storage.Tx) hostVarsFunc {
	return func(hostIP string) (map[string]string, error) {
		clusterVars, err := vars.Read(tx, "cluster")
		if err != nil {
			return nil, err
		}
		hostVars, err := vars.Read(tx, "host/"+hostIP)
		if err != nil {
			return nil, err
		}
		merged := map[string]string{}
		for k, v := range clusterVars {
			merged[k] = v
		}
		for k, v := range hostVars {
			merged[k] = v
		}
		return merged, nil
	}
}

func defaultJobVars(tx storage.Tx) jobVarsFunc {
	return func(jobName string) (map[string]string, error) {
		return vars.Read(tx, "job/"+jobName)
	}
}

// RunCommand runs a single job command across allocations, in ascending
// host-IP order (spec.md §5 ordering guarantee #3), bounded by e.Concurrency
// concurrent allocations. The first allocation failure fails the whole
// invocation; in-flight allocations are allowed to finish (spec.md §5
// cancellation semantics).
func (e *Executor) RunCommand(ctx context.Context, job *types.Job, commandName string, event types.HookEvent, target string, allocations []*types.Allocation, agentDir string) error {
	ordered := append([]*types.Allocation{}, allocations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].HostIP < ordered[j].HostIP })

	sidecar := NewSidecar(e.Store)
	addr, err := sidecar.Start()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sidecar.Stop(stopCtx)
	}()

	demands := Demands(e.AllJobs, job.Name, commandName)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	concurrency := e.Concurrency
	if concurrency <= 0 || concurrency > len(ordered) {
		concurrency = len(ordered)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	hostVars := defaultHostVars(e.Store)
	jobVars := defaultJobVars(e.Store)

	for _, alloc := range ordered {
		alloc := alloc
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

			err := e.runOne(runCtx, sidecar, addr, job, commandName, event, target, alloc, agentDir, demands, hostVars, jobVars)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return firstErr
}

func (e *Executor) runOne(ctx context.Context, sidecar *Sidecar, sidecarAddr string, job *types.Job, commandName string, event types.HookEvent, target string, alloc *types.Allocation, agentDir string, demands []Demand, hostVars hostVarsFunc, jobVars jobVarsFunc) error {
	logger := log.WithCommand(job.Name, commandName, string(event))

	checker, cleanup, err := e.prepareInvocation(sidecar, sidecarAddr, job, commandName, event, target, alloc, agentDir, demands, hostVars, jobVars)
	if err != nil {
		return err
	}
	defer cleanup()

	result := checker.Check(ctx)
	if !result.Healthy {
		logger.Error().Str("host_ip", alloc.HostIP).Str("message", result.Message).Msg("command invocation failed")
		return errs.Subprocess(fmt.Errorf("%s", result.Message)).WithJob(job.Name).WithHost(alloc.HostIP).WithCommand(commandName).WithStderr(result.Message)
	}
	return nil
}

// prepareInvocation stages the scratch module root, resolves the
// entrypoint, assembles the environment, and registers the allocation with
// the sidecar, returning a ready-to-run checker. cleanup unregisters the
// allocation and must be called once the checker is done (including every
// retry attempt a health gate drives).
func (e *Executor) prepareInvocation(sidecar *Sidecar, sidecarAddr string, job *types.Job, commandName string, event types.HookEvent, target string, alloc *types.Allocation, agentDir string, demands []Demand, hostVars hostVarsFunc, jobVars jobVarsFunc) (*health.ExecChecker, func(), error) {
	scratchRoot := filepath.Join(e.ScratchDir, alloc.HostIP, job.Name, commandName)
	if err := StageModuleRoot(job, scratchRoot); err != nil {
		return nil, nil, errs.Subprocess(err).WithJob(job.Name).WithHost(alloc.HostIP).WithCommand(commandName)
	}
	if err := WriteDemandsFile(scratchRoot, demands); err != nil {
		return nil, nil, errs.Subprocess(err).WithJob(job.Name).WithHost(alloc.HostIP).WithCommand(commandName)
	}

	entrypoint, err := ResolveEntrypoint(scratchRoot, commandName)
	if err != nil {
		return nil, nil, errs.Subprocess(err).WithJob(job.Name).WithHost(alloc.HostIP).WithCommand(commandName)
	}

	hv, err := hostVars(alloc.HostIP)
	if err != nil {
		return nil, nil, err
	}
	jv, err := jobVars(job.Name)
	if err != nil {
		return nil, nil, err
	}

	host := &types.Host{HostID: alloc.HostID, HostIP: alloc.HostIP}
	env := Assemble(EnvSpec{
		Host: host, Job: job, HostVars: hv, JobVars: jv,
		Config: e.Config, Bucket: e.Bucket, Command: commandName, Event: event,
		Target: target, AgentDir: agentDir, Disabled: alloc.Disabled,
	})
	env = append(env, "MAAND_SIDECAR_ADDR="+sidecarAddr)

	sidecar.Register(alloc.HostID, &AllocationContext{Job: job.Name, Event: event, Demands: demands})
	cleanup := func() { sidecar.Unregister(alloc.HostID) }

	checker := &health.ExecChecker{Command: []string{entrypoint}, Dir: scratchRoot, Env: env, Timeout: invocationTimeout}
	return checker, cleanup, nil
}

// RunHealthCheckHook gates commandName (normally the job's health_check
// command) across allocations, each with its own retry budget per cfg, in
// ascending host-IP order. The first allocation to exhaust its budget fails
// the whole hook (spec.md §4.I, §5, §8 scenario 6).
func (e *Executor) RunHealthCheckHook(ctx context.Context, job *types.Job, commandName string, allocations []*types.Allocation, agentDir string, cfg health.Config) error {
	ordered := append([]*types.Allocation{}, allocations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].HostIP < ordered[j].HostIP })

	sidecar := NewSidecar(e.Store)
	addr, err := sidecar.Start()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sidecar.Stop(stopCtx)
	}()

	demands := Demands(e.AllJobs, job.Name, commandName)
	hostVars := defaultHostVars(e.Store)
	jobVars := defaultJobVars(e.Store)

	for _, alloc := range ordered {
		checker, cleanup, err := e.prepareInvocation(sidecar, addr, job, commandName, types.EventHealthCheck, "", alloc, agentDir, demands, hostVars, jobVars)
		if err != nil {
			return err
		}
		status, err := health.Gate(ctx, checker, cfg)
		cleanup()
		if err != nil {
			return errs.HealthCheck(job.Name, err).WithHost(alloc.HostIP).WithCommand(commandName)
		}
		if !status.Healthy {
			log.WithJob(job.Name).Error().Str("host_ip", alloc.HostIP).Int("attempts", status.Attempts).
				Str("message", status.LastResult.Message).Msg("permanently failed health check")
			return errs.HealthCheck(job.Name, fmt.Errorf("exhausted %d attempts: %s", status.Attempts, status.LastResult.Message)).
				WithHost(alloc.HostIP).WithCommand(commandName).WithStderr(status.LastResult.Message)
		}
	}
	return nil
}
