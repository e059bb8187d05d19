package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/maand-sh/maand/pkg/types"
)

// Demand is one reverse depend_on edge: some other job's command declared
// `depend_on: {job: X, command: Y}`, so X's command Y's demands include
// this tuple (spec.md GLOSSARY "Demand").
type Demand struct {
	Job     string `json:"job"`
	Command string `json:"command"`
	Config  string `json:"config,omitempty"`
}

// Demands returns every (job, command) pair across allJobs whose
// depend_on points at (targetJob, targetCommand).
func Demands(allJobs []*types.Job, targetJob, targetCommand string) []Demand {
	var out []Demand
	for _, j := range allJobs {
		for _, c := range j.Commands {
			if c.DependsOn == nil || c.DependsOn.Command != targetCommand {
				continue
			}
			depJob := c.DependsOn.Job
			if depJob == "" {
				depJob = j.Name
			}
			if depJob != targetJob {
				continue
			}
			out = append(out, Demand{Job: j.Name, Command: c.Name, Config: c.DependsOn.Config})
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Job != out[k].Job {
			return out[i].Job < out[k].Job
		}
		return out[i].Command < out[k].Command
	})
	return out
}

// WriteDemandsFile writes the sibling demands.json the scratch module
// root carries alongside a command invocation (spec.md §4.K), so a
// build-time command can discover its downstream dependents.
func WriteDemandsFile(moduleRoot string, demands []Demand) error {
	if demands == nil {
		demands = []Demand{}
	}
	raw, err := json.MarshalIndent(demands, "", "  ")
	if err != nil {
		return fmt.Errorf("encode demands.json: %w", err)
	}
	path := filepath.Join(moduleRoot, "demands.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
