package assign

import (
	"testing"

	"github.com/maand-sh/maand/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestLabelsSubset(t *testing.T) {
	assert.True(t, labelsSubset([]string{"web"}, []string{"web", "agent"}))
	assert.True(t, labelsSubset(nil, []string{"agent"}))
	assert.False(t, labelsSubset([]string{"web", "db"}, []string{"web", "agent"}))
}

func TestDisabledForFleetWide(t *testing.T) {
	disabled := &types.DisabledOverrides{Jobs: map[string]types.DisabledJob{"web": {}}}
	h := &types.Host{HostIP: "10.0.0.1"}
	assert.True(t, disabledFor(h, "web", disabled))
	assert.False(t, disabledFor(h, "db", disabled))
}

func TestDisabledForPerHostJob(t *testing.T) {
	disabled := &types.DisabledOverrides{Jobs: map[string]types.DisabledJob{
		"web": {Agents: []string{"10.0.0.2"}},
	}}
	assert.True(t, disabledFor(&types.Host{HostIP: "10.0.0.2"}, "web", disabled))
	assert.False(t, disabledFor(&types.Host{HostIP: "10.0.0.1"}, "web", disabled))
}

func TestDisabledForFleetWideAgents(t *testing.T) {
	disabled := &types.DisabledOverrides{Agents: []string{"10.0.0.3"}}
	assert.True(t, disabledFor(&types.Host{HostIP: "10.0.0.3"}, "anything", disabled))
	assert.False(t, disabledFor(&types.Host{HostIP: "10.0.0.4"}, "anything", disabled))
}

func TestDisabledForNilOverrides(t *testing.T) {
	assert.False(t, disabledFor(&types.Host{HostIP: "10.0.0.1"}, "web", nil))
}
