package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/maand-sh/maand/pkg/types"
)

// JobAssignment is one entry of a host's jobs.json sidecar file, the
// on-host runner's view of what it should be running.
type JobAssignment struct {
	Disabled bool `json:"disabled"`
}

// WriteHostSidecars writes the fixed per-host files the on-host runner
// contract requires (spec.md §6 on-host layout): agent.txt, bucket.txt,
// update_seq.txt, labels.txt, jobs.json.
func WriteHostSidecars(hostDir string, host *types.Host, bucket *types.Bucket, assigned map[string]bool) error {
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		return fmt.Errorf("create host staging dir %s: %w", hostDir, err)
	}
	if err := os.WriteFile(filepath.Join(hostDir, "agent.txt"), []byte(host.HostID), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(hostDir, "bucket.txt"), []byte(bucket.BucketID), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(hostDir, "update_seq.txt"), []byte(strconv.FormatInt(bucket.UpdateSeq, 10)), 0644); err != nil {
		return err
	}

	labels := append([]string{}, host.Labels...)
	sort.Strings(labels)
	if err := os.WriteFile(filepath.Join(hostDir, "labels.txt"), []byte(strings.Join(labels, "\n")), 0644); err != nil {
		return err
	}

	jobs := map[string]JobAssignment{}
	for name, disabled := range assigned {
		jobs[name] = JobAssignment{Disabled: disabled}
	}
	raw, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode jobs.json: %w", err)
	}
	return os.WriteFile(filepath.Join(hostDir, "jobs.json"), raw, 0644)
}

// Upload ships hostDir's staged tree to hostIP over rsync, restricted to
// the jobs currently in scope for that host. rsync and ssh are out-of-scope
// external collaborators (spec.md §1) invoked here as subprocesses rather
// than reimplemented.
func Upload(ctx context.Context, cfg *types.ControllerConfig, hostIP, hostDir, agentDir string, jobsInScope []string) error {
	args := []string{"-a", "--delete"}
	for _, name := range jobsInScope {
		args = append(args, "--include", "jobs/"+name+"/***")
	}
	args = append(args, "--exclude", "jobs/*")

	sshOpt := "ssh -o StrictHostKeyChecking=no"
	if cfg.SSHKey != "" {
		sshOpt += " -i " + cfg.SSHKey
	}
	args = append(args, "-e", sshOpt)

	dest := hostIP + ":" + agentDir + "/"
	if cfg.SSHUser != "" {
		dest = cfg.SSHUser + "@" + dest
	}
	args = append(args, hostDir+"/", dest)

	cmd := exec.CommandContext(ctx, "rsync", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync to %s failed: %w: %s", hostIP, err, truncate(string(out), 2000))
	}
	return nil
}

// InvokeRunner calls the on-host runner over ssh for a job with no
// job_control command of its own, per spec.md §6's on-host layout contract:
// "<agent_dir>/bin/runner <bucket_id> <action> --jobs <list>".
func InvokeRunner(ctx context.Context, cfg *types.ControllerConfig, hostIP, agentDir, bucketID, action string, jobNames []string) error {
	remoteCmd := fmt.Sprintf("%s/bin/runner %s %s --jobs %s", agentDir, bucketID, action, strings.Join(jobNames, ","))
	if cfg.UseSudo {
		remoteCmd = "sudo " + remoteCmd
	}

	args := []string{"-o", "StrictHostKeyChecking=no"}
	if cfg.SSHKey != "" {
		args = append(args, "-i", cfg.SSHKey)
	}
	target := hostIP
	if cfg.SSHUser != "" {
		target = cfg.SSHUser + "@" + hostIP
	}
	args = append(args, target, remoteCmd)

	cmd := exec.CommandContext(ctx, "ssh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("on-host runner %s on %s failed: %w: %s", action, hostIP, err, truncate(string(out), 2000))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
