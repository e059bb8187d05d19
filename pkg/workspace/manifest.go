package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/types"
)

// rawManifest mirrors the on-disk JSON shape of a job manifest (spec.md
// §4.B / §6): certs is a sequence of single-key objects, and commands and
// ports are objects whose keys carry a "command_"/"port_" prefix that
// names the entry.
type rawManifest struct {
	Version   string          `json:"version"`
	Labels    []string        `json:"labels"`
	Resources rawResources    `json:"resources"`
	Certs     []json.RawMessage `json:"certs"`
	Commands  map[string]rawCommand `json:"commands"`
}

type rawResources struct {
	Memory rawRange       `json:"memory"`
	CPU    rawRange       `json:"cpu"`
	Ports  map[string]int `json:"ports"`
}

type rawRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

type rawCommand struct {
	ExecutedOn []string         `json:"executed_on"`
	DependsOn  *rawDependsOn    `json:"depend_on"`
}

type rawDependsOn struct {
	Job     string `json:"job"`
	Command string `json:"command"`
	Config  string `json:"config"`
}

// LoadJobManifest parses workspace/jobs/<job>/manifest.json into a
// types.JobManifest, validating the required structural shape.
func LoadJobManifest(jobName, path string) (*types.JobManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.SchemaValidation("manifest %s is not valid JSON: %v", path, err)
	}

	manifest := &types.JobManifest{
		Name:    jobName,
		Version: raw.Version,
		Labels:  append([]string{}, raw.Labels...),
		Resources: types.ManifestResources{
			Memory: types.ManifestResourceRange{Min: raw.Resources.Memory.Min, Max: raw.Resources.Memory.Max},
			CPU:    types.ManifestResourceRange{Min: raw.Resources.CPU.Min, Max: raw.Resources.CPU.Max},
			Ports:  map[string]int{},
		},
	}

	for portKey, port := range raw.Resources.Ports {
		name := strings.TrimPrefix(portKey, "port_")
		manifest.Resources.Ports[name] = port
	}

	for _, entry := range raw.Certs {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(entry, &m); err != nil || len(m) != 1 {
			return nil, errs.SchemaValidation("manifest %s: each certs entry must be a single-key object", path)
		}
		for name, detailRaw := range m {
			var detail struct {
				PKCS8          bool   `json:"pkcs8"`
				Subject        string `json:"subject"`
				SubjectAltName string `json:"subject_alt_name"`
			}
			if err := json.Unmarshal(detailRaw, &detail); err != nil {
				return nil, errs.SchemaValidation("manifest %s: cert %q is malformed: %v", path, name, err)
			}
			manifest.Certs = append(manifest.Certs, types.ManifestCert{
				Name:           name,
				PKCS8:          detail.PKCS8,
				Subject:        detail.Subject,
				SubjectAltName: detail.SubjectAltName,
			})
		}
	}

	var cmdNames []string
	for key := range raw.Commands {
		cmdNames = append(cmdNames, key)
	}
	sort.Strings(cmdNames)
	for _, key := range cmdNames {
		cmdName, ok := strings.CutPrefix(key, "command_")
		if !ok {
			return nil, errs.SchemaValidation("manifest %s: command key %q must start with \"command_\"", path, key)
		}
		rc := raw.Commands[key]
		cmd := types.ManifestCommand{Name: cmdName, ExecutedOn: append([]string{}, rc.ExecutedOn...)}
		if rc.DependsOn != nil {
			cmd.DependsOn = &types.ManifestCommandDependsOn{
				Job:     rc.DependsOn.Job,
				Command: rc.DependsOn.Command,
				Config:  rc.DependsOn.Config,
			}
		}
		for _, event := range cmd.ExecutedOn {
			if !validHookEvent(event) {
				return nil, errs.SchemaValidation("manifest %s: command %q has invalid executed_on value %q", path, cmdName, event)
			}
		}
		manifest.Commands = append(manifest.Commands, cmd)
	}

	return manifest, nil
}

func validHookEvent(event string) bool {
	switch types.HookEvent(event) {
	case types.EventDirect, types.EventPreDeploy, types.EventJobControl,
		types.EventPostDeploy, types.EventPostBuild, types.EventHealthCheck:
		return true
	default:
		return false
	}
}
