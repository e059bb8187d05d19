package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabelsAlwaysIncludesAgent(t *testing.T) {
	assert.Equal(t, []string{"agent"}, normalizeLabels(nil))
}

func TestNormalizeLabelsDedupesAndDropsEmpty(t *testing.T) {
	out := normalizeLabels([]string{"web", "", "web", "db"})
	assert.Equal(t, []string{"agent", "web", "db"}, out)
}

func TestNormalizeLabelsDedupesExplicitAgentLabel(t *testing.T) {
	out := normalizeLabels([]string{"agent", "web"})
	assert.Equal(t, []string{"agent", "web"}, out)
}
