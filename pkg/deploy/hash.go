package deploy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/maand-sh/maand/pkg/types"
)

// ContentHash computes the allocation content hash that Allocation.Classify
// diffs against (spec.md §3): every input that should force a redeploy when
// it changes — version, certs, ports, labels, file contents — plus the
// allocation's own disabled flag, since flipping it changes what the
// on-host runner does with the job.
func ContentHash(job *types.Job, disabled bool) string {
	h := sha256.New()
	h.Write([]byte(job.Name))
	h.Write([]byte(job.Version))
	h.Write([]byte(job.CertsMD5Hash))
	h.Write([]byte(strconv.FormatBool(disabled)))

	labels := append([]string{}, job.Labels...)
	sort.Strings(labels)
	for _, l := range labels {
		h.Write([]byte(l))
	}

	var portNames []string
	for name := range job.Ports {
		portNames = append(portNames, name)
	}
	sort.Strings(portNames)
	for _, name := range portNames {
		h.Write([]byte(name))
		h.Write([]byte(strconv.Itoa(job.Ports[name])))
	}

	files := append([]types.JobFile{}, job.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, f := range files {
		if f.IsModule() {
			continue
		}
		h.Write([]byte(f.Path))
		h.Write(f.Content)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// transitionCounts tallies Classify() across a job's allocations.
type transitionCounts struct {
	New, Unchanged, Changed, Removed int
	Total                            int // non-removed allocations
}

func countTransitions(allocations []*types.Allocation) transitionCounts {
	var c transitionCounts
	for _, a := range allocations {
		switch a.Classify() {
		case types.TransitionNew:
			c.New++
			c.Total++
		case types.TransitionUnchanged:
			c.Unchanged++
			c.Total++
		case types.TransitionChanged:
			c.Changed++
			c.Total++
		case types.TransitionRemoved:
			c.Removed++
		}
	}
	return c
}

func byTransition(allocations []*types.Allocation, t types.Transition) []*types.Allocation {
	var out []*types.Allocation
	for _, a := range allocations {
		if a.Classify() == t {
			out = append(out, a)
		}
	}
	return out
}
