package jobs

import (
	"sort"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/types"
)

// computeDeploymentSeqs derives each job's deployment_seq (spec.md §3/§4.D):
// deployment_seq(j) = 1 + max{ deployment_seq(j') : j' is a pre_deploy
// depend_on target of j }, 0 for roots. It walks the pre_deploy edges with
// Kahn's algorithm so a cycle is detected rather than recursed forever
// (spec.md §8).
func computeDeploymentSeqs(manifests map[string]*types.JobManifest) (map[string]int, error) {
	// edges[j] = set of jobs j depends on via a pre_deploy command's depend_on
	edges := map[string]map[string]bool{}
	for name := range manifests {
		edges[name] = map[string]bool{}
	}
	for jobName, m := range manifests {
		for _, cmd := range m.Commands {
			if cmd.DependsOn == nil || cmd.DependsOn.Command == "" {
				continue
			}
			if !executedOnPreDeploy(cmd) {
				continue
			}
			targetJob := cmd.DependsOn.Job
			if targetJob == "" {
				targetJob = jobName
			}
			if targetJob == jobName {
				continue
			}
			edges[jobName][targetJob] = true
		}
	}

	// indegree here counts dependents-of-dependency edges in reverse: we
	// process jobs whose dependencies are already resolved, so track how
	// many unresolved dependencies each job still has.
	remaining := map[string]int{}
	for name, deps := range edges {
		remaining[name] = len(deps)
	}
	dependents := map[string][]string{}
	for name, deps := range edges {
		for dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	seq := map[string]int{}
	var queue []string
	for name, n := range remaining {
		if n == 0 {
			queue = append(queue, name)
			seq[name] = 0
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		name := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range dependents[name] {
			if seq[name]+1 > seq[dependent] {
				seq[dependent] = seq[name] + 1
			}
			remaining[dependent]--
			if remaining[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed != len(manifests) {
		return nil, errs.SchemaValidation("pre_deploy depend_on graph contains a cycle")
	}

	return seq, nil
}

func executedOnPreDeploy(cmd types.ManifestCommand) bool {
	for _, e := range cmd.ExecutedOn {
		if types.HookEvent(e) == types.EventPreDeploy {
			return true
		}
	}
	return false
}
