// Package jobs implements the job builder (spec.md §4.D): it ingests every
// job manifest under workspace/jobs/, stores the manifest tree as blob
// rows, and computes each job's deployment_seq by walking the pre_deploy
// dependency graph with Kahn's algorithm.
package jobs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/workspace"
)

// jobNamespace seeds the UUIDv5 derivation for job_id, so it stays stable
// across rebuilds as long as the job name doesn't change (spec.md §3).
var jobNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("maand.job"))

// Build ingests every manifest under <workspaceDir>/jobs, replacing the
// prior row for each job and deleting jobs whose manifest has disappeared.
// It returns the full set of jobs as built, deployment_seq included.
func Build(tx storage.Tx, workspaceDir string, jobVars workspace.JobVariables) ([]*types.Job, error) {
	jobsDir := filepath.Join(workspaceDir, "jobs")
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return nil, fmt.Errorf("read jobs directory %s: %w", jobsDir, err)
		}
	}

	manifests := map[string]*types.JobManifest{}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		manifestPath := filepath.Join(jobsDir, name, "manifest.json")
		m, err := workspace.LoadJobManifest(name, manifestPath)
		if err != nil {
			return nil, err
		}
		manifests[name] = m
		names = append(names, name)
	}
	sort.Strings(names)

	if err := validateDependencies(manifests); err != nil {
		return nil, err
	}

	seqByJob, err := computeDeploymentSeqs(manifests)
	if err != nil {
		return nil, err
	}

	if err := deleteVanishedJobs(tx, names); err != nil {
		return nil, err
	}

	var jobs []*types.Job
	for _, name := range names {
		m := manifests[name]
		job, err := buildJob(name, m, jobsDir, seqByJob[name])
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteJob(name); err != nil {
			return nil, fmt.Errorf("delete prior row for job %s: %w", name, err)
		}
		if err := tx.UpsertJob(job); err != nil {
			return nil, fmt.Errorf("upsert job %s: %w", name, err)
		}
		metrics.AllocationTransitionsTotal.WithLabelValues("job_built").Inc()
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func buildJob(name string, m *types.JobManifest, jobsDir string, deploymentSeq int) (*types.Job, error) {
	minMem, err := workspace.ExtractSizeMB(m.Resources.Memory.Min)
	if err != nil {
		return nil, errs.SchemaValidation("job %s: %v", name, err)
	}
	maxMem, err := workspace.ExtractSizeMB(m.Resources.Memory.Max)
	if err != nil {
		return nil, errs.SchemaValidation("job %s: %v", name, err)
	}
	minCPU, err := workspace.ExtractCPUMHz(m.Resources.CPU.Min)
	if err != nil {
		return nil, errs.SchemaValidation("job %s: %v", name, err)
	}
	maxCPU, err := workspace.ExtractCPUMHz(m.Resources.CPU.Max)
	if err != nil {
		return nil, errs.SchemaValidation("job %s: %v", name, err)
	}

	files, err := workspace.WalkJobFiles(filepath.Join(jobsDir, name))
	if err != nil {
		return nil, err
	}

	job := &types.Job{
		JobID:         uuid.NewSHA1(jobNamespace, []byte(name)).String(),
		Name:          name,
		Version:       m.Version,
		MinMemoryMB:   int64(minMem),
		MaxMemoryMB:   int64(maxMem),
		MinCPUMHz:     int64(minCPU),
		MaxCPUMHz:     int64(maxCPU),
		DeploymentSeq: deploymentSeq,
		Labels:        append([]string{}, m.Labels...),
		Ports:         map[string]int{},
		Files:         files,
	}
	for name, port := range m.Resources.Ports {
		job.Ports[name] = port
	}

	var certHash []byte
	for _, c := range m.Certs {
		job.Certs = append(job.Certs, types.JobCert{
			Name: c.Name, PKCS8: c.PKCS8, Subject: c.Subject, SubjectAltName: c.SubjectAltName,
		})
		certHash = append(certHash, []byte(c.Name+c.Subject+c.SubjectAltName)...)
	}
	sum := md5.Sum(certHash)
	job.CertsMD5Hash = hex.EncodeToString(sum[:])

	for _, c := range m.Commands {
		cmd := types.JobCommand{Name: c.Name}
		for _, e := range c.ExecutedOn {
			cmd.ExecutedOn = append(cmd.ExecutedOn, types.HookEvent(e))
		}
		if c.DependsOn != nil {
			cmd.DependsOn = &types.CommandDependency{Job: c.DependsOn.Job, Command: c.DependsOn.Command, Config: c.DependsOn.Config}
		}
		job.Commands = append(job.Commands, cmd)
	}

	return job, nil
}

// validateDependencies rejects any command's depend_on target (job,
// command pair) that has no backing command definition, per spec.md §4.B.
func validateDependencies(manifests map[string]*types.JobManifest) error {
	for jobName, m := range manifests {
		for _, cmd := range m.Commands {
			if cmd.DependsOn == nil || cmd.DependsOn.Command == "" {
				continue
			}
			targetJob := cmd.DependsOn.Job
			if targetJob == "" {
				targetJob = jobName
			}
			target, ok := manifests[targetJob]
			if !ok {
				return errs.MissingCommand(targetJob, cmd.DependsOn.Command).WithJob(jobName)
			}
			if !hasCommand(target, cmd.DependsOn.Command) {
				return errs.MissingCommand(targetJob, cmd.DependsOn.Command).WithJob(jobName)
			}
		}
	}
	return nil
}

func hasCommand(m *types.JobManifest, name string) bool {
	for _, c := range m.Commands {
		if c.Name == name {
			return true
		}
	}
	return false
}

func deleteVanishedJobs(tx storage.Tx, currentNames []string) error {
	existing, err := tx.ListJobs()
	if err != nil {
		return fmt.Errorf("list existing jobs: %w", err)
	}
	present := map[string]bool{}
	for _, n := range currentNames {
		present[n] = true
	}
	for _, j := range existing {
		if !present[j.Name] {
			if err := tx.DeleteJob(j.Name); err != nil {
				return fmt.Errorf("delete vanished job %s: %w", j.Name, err)
			}
			if err := tx.DeleteNamespace("job/" + j.Name); err != nil {
				return fmt.Errorf("purge KV namespace for vanished job %s: %w", j.Name, err)
			}
			if err := tx.DeleteNamespace("maand/certs/job/" + j.Name); err != nil {
				return fmt.Errorf("purge cert namespace for vanished job %s: %w", j.Name, err)
			}
		}
	}
	return nil
}
