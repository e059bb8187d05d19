package workspace

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maand-sh/maand/pkg/types"
)

// LoadControllerConfig reads maand.conf's [default] section (spec.md §6).
// A missing file yields the defaults (certs_ttl of
// types.DefaultCertsTTLDays, jobs_conf_path workspace/maand.jobs.conf,
// everything else zero) rather than an error, since every option is
// optional.
func LoadControllerConfig(confPath string) (*types.ControllerConfig, error) {
	cfg := &types.ControllerConfig{
		CertsTTLDays: types.DefaultCertsTTLDays,
		JobsConfPath: "workspace/maand.jobs.conf",
	}

	sections, err := ParseINI(confPath)
	if err != nil {
		return cfg, nil //nolint:nilerr // absent config file is not fatal
	}

	section, ok := sections["default"]
	if !ok {
		return cfg, nil
	}

	if v, ok := section["use_sudo"]; ok {
		cfg.UseSudo = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := section["ssh_user"]; ok {
		cfg.SSHUser = v
	}
	if v, ok := section["ssh_key"]; ok {
		cfg.SSHKey = v
	}
	if v, ok := section["certs_ttl"]; ok {
		if days, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.CertsTTLDays = days
		}
	}
	if v, ok := section["jobs_conf_path"]; ok {
		cfg.JobsConfPath = v
	}
	return cfg, nil
}

// JobVariables maps job name to its `<job>.variables` section from
// maand.jobs.conf.
type JobVariables map[string]map[string]string

// LoadJobVariables reads the per-job variable overrides INI file (spec.md
// §6): sections named "<job>.variables".
func LoadJobVariables(path string) (JobVariables, error) {
	sections, err := ParseINI(path)
	if err != nil {
		return JobVariables{}, nil //nolint:nilerr // absent file is not fatal
	}

	out := JobVariables{}
	for name, values := range sections {
		job, ok := strings.CutSuffix(name, ".variables")
		if !ok {
			continue
		}
		out[job] = values
	}
	return out, nil
}

// ResolveJobsConfPath resolves a maand.conf-declared jobs_conf_path
// relative to the workspace root.
func ResolveJobsConfPath(workspaceDir, jobsConfPath string) string {
	if filepath.IsAbs(jobsConfPath) {
		return jobsConfPath
	}
	return filepath.Join(workspaceDir, "..", jobsConfPath)
}
