package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maand-sh/maand/pkg/certmgr"
	"github.com/maand-sh/maand/pkg/render"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
)

// StageJob writes job's non-_modules files into hostDir/jobs/<job>, hydrates
// any KV-archived certs the manifest declares, and renders every templated
// file against the composed host+job variables (spec.md §4.I step 1).
// _modules/ files are excluded: those are staged per command invocation by
// pkg/command.StageModuleRoot, not shipped as part of the deployed tree.
func StageJob(tx storage.Tx, job *types.Job, hostIP, hostDir string, vars map[string]string) error {
	jobDir := filepath.Join(hostDir, "jobs", job.Name)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job staging dir %s: %w", jobDir, err)
	}

	for _, f := range job.Files {
		if f.IsModule() {
			continue
		}
		dest := filepath.Join(jobDir, f.Path)
		if f.IsDir {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("create parent of %s: %w", dest, err)
		}
		if err := os.WriteFile(dest, f.Content, 0644); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
	}

	if err := hydrateJobCerts(tx, job, hostIP, jobDir); err != nil {
		return err
	}

	if err := render.Tree(jobDir, vars); err != nil {
		return fmt.Errorf("render job %s for host %s: %w", job.Name, hostIP, err)
	}
	return nil
}

func hydrateJobCerts(tx storage.Tx, job *types.Job, hostIP, jobDir string) error {
	if len(job.Certs) == 0 {
		return nil
	}
	certsDir := filepath.Join(jobDir, "certs")
	if err := os.MkdirAll(certsDir, 0755); err != nil {
		return fmt.Errorf("create certs dir %s: %w", certsDir, err)
	}
	for _, c := range job.Certs {
		certPEM, keyPEM, caPEM, ok, err := certmgr.RestoreJobCert(tx, hostIP, job.Name, c.Name)
		if err != nil {
			return fmt.Errorf("restore cert %s/%s/%s: %w", hostIP, job.Name, c.Name, err)
		}
		if !ok {
			return fmt.Errorf("no archived certificate for %s/%s/%s", hostIP, job.Name, c.Name)
		}
		if err := os.WriteFile(filepath.Join(certsDir, c.Name+".crt"), certPEM, 0644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(certsDir, c.Name+".key"), keyPEM, 0600); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(certsDir, c.Name+".ca"), caPEM, 0644); err != nil {
			return err
		}
	}
	return nil
}

// StageHostIdentity hydrates the per-host identity cert (host.crt/host.key
// plus the cluster CA) at the root of the host's staging directory, so the
// on-host runner and every job on the host can trust the same chain.
func StageHostIdentity(tx storage.Tx, hostIP, hostDir string) error {
	certPEM, keyPEM, caPEM, ok, err := certmgr.RestoreHostCert(tx, hostIP)
	if err != nil {
		return fmt.Errorf("restore host cert for %s: %w", hostIP, err)
	}
	if !ok {
		return fmt.Errorf("no archived host certificate for %s", hostIP)
	}
	if err := os.WriteFile(filepath.Join(hostDir, "host.crt"), certPEM, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(hostDir, "host.key"), keyPEM, 0600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(hostDir, "ca.crt"), caPEM, 0644); err != nil {
		return err
	}
	return nil
}
