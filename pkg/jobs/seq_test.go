package jobs

import (
	"testing"

	"github.com/maand-sh/maand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dependsOnCmd(job, command string) types.ManifestCommand {
	return types.ManifestCommand{
		Name:       "pre",
		ExecutedOn: []string{"pre_deploy"},
		DependsOn:  &types.ManifestCommandDependsOn{Job: job, Command: command},
	}
}

func TestComputeDeploymentSeqsRootsAreZero(t *testing.T) {
	manifests := map[string]*types.JobManifest{
		"web": {Name: "web"},
		"db":  {Name: "db"},
	}
	seq, err := computeDeploymentSeqs(manifests)
	require.NoError(t, err)
	assert.Equal(t, 0, seq["web"])
	assert.Equal(t, 0, seq["db"])
}

func TestComputeDeploymentSeqsChain(t *testing.T) {
	manifests := map[string]*types.JobManifest{
		"db":  {Name: "db"},
		"web": {Name: "web", Commands: []types.ManifestCommand{dependsOnCmd("db", "start")}},
		"lb":  {Name: "lb", Commands: []types.ManifestCommand{dependsOnCmd("web", "start")}},
	}
	seq, err := computeDeploymentSeqs(manifests)
	require.NoError(t, err)
	assert.Equal(t, 0, seq["db"])
	assert.Equal(t, 1, seq["web"])
	assert.Equal(t, 2, seq["lb"])
}

func TestComputeDeploymentSeqsIgnoresNonPreDeployDependency(t *testing.T) {
	directCmd := types.ManifestCommand{
		Name:       "hook",
		ExecutedOn: []string{"job_control"},
		DependsOn:  &types.ManifestCommandDependsOn{Job: "db", Command: "start"},
	}
	manifests := map[string]*types.JobManifest{
		"db":  {Name: "db"},
		"web": {Name: "web", Commands: []types.ManifestCommand{directCmd}},
	}
	seq, err := computeDeploymentSeqs(manifests)
	require.NoError(t, err)
	assert.Equal(t, 0, seq["web"], "job_control depend_on must not affect deployment_seq")
}

func TestComputeDeploymentSeqsDetectsCycle(t *testing.T) {
	manifests := map[string]*types.JobManifest{
		"a": {Name: "a", Commands: []types.ManifestCommand{dependsOnCmd("b", "start")}},
		"b": {Name: "b", Commands: []types.ManifestCommand{dependsOnCmd("a", "start")}},
	}
	_, err := computeDeploymentSeqs(manifests)
	assert.Error(t, err)
}

func TestComputeDeploymentSeqsMultipleParentsTakesMax(t *testing.T) {
	manifests := map[string]*types.JobManifest{
		"a": {Name: "a"},
		"b": {Name: "b", Commands: []types.ManifestCommand{dependsOnCmd("a", "start")}},
		"c": {Name: "c", Commands: []types.ManifestCommand{
			dependsOnCmd("a", "start"),
			func() types.ManifestCommand {
				cmd := dependsOnCmd("b", "start")
				cmd.Name = "pre2"
				return cmd
			}(),
		}},
	}
	seq, err := computeDeploymentSeqs(manifests)
	require.NoError(t, err)
	assert.Equal(t, 0, seq["a"])
	assert.Equal(t, 1, seq["b"])
	assert.Equal(t, 2, seq["c"])
}
