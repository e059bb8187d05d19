package vars

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/maand-sh/maand/pkg/types"
)

// labelNamespace seeds the UUIDv5 derivation for <label>_label_id, mirroring
// how pkg/jobs derives a stable job_id from a job name.
var labelNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("maand.label"))

// LabelID returns the stable UUIDv5 identifier for a label name.
func LabelID(label string) string {
	return uuid.NewSHA1(labelNamespace, []byte(label)).String()
}

// ComposeHostVars derives self's per-host variable namespace (spec.md
// §4.G), given the full ordered host list so label-scoped aggregates
// (nodes/peers/length/index) can be computed. hosts must be ordered by
// Position ascending.
func ComposeHostVars(hosts []*types.Host, self *types.Host) map[string]string {
	out := map[string]string{}

	labelSet := map[string][]*types.Host{}
	var allLabels []string
	for _, h := range hosts {
		for _, label := range h.Labels {
			if _, ok := labelSet[label]; !ok {
				allLabels = append(allLabels, label)
			}
			labelSet[label] = append(labelSet[label], h)
		}
	}
	sort.Strings(allLabels)

	for _, label := range allLabels {
		members := labelSet[label]
		ips := make([]string, len(members))
		selfIndex := -1
		for i, h := range members {
			ips[i] = h.HostIP
			if h.HostIP == self.HostIP {
				selfIndex = i
			}
		}

		out[label+"_nodes"] = strings.Join(ips, ",")
		out[label+"_length"] = strconv.Itoa(len(ips))
		out[label+"_label_id"] = LabelID(label)
		for i, ip := range ips {
			out[fmt.Sprintf("%s_%d", label, i)] = ip
		}

		if selfIndex >= 0 {
			out[label+"_allocation_index"] = strconv.Itoa(selfIndex)
			peers := make([]string, 0, len(ips)-1)
			for i, ip := range ips {
				if i != selfIndex {
					peers = append(peers, ip)
				}
			}
			out[label+"_peers"] = strings.Join(peers, ",")
		}
	}

	sortedLabels := append([]string{}, self.Labels...)
	sort.Strings(sortedLabels)
	out["labels"] = strings.Join(sortedLabels, ",")

	for k, v := range self.Tags {
		out[Lowercase(k)] = v
	}

	if self.MemoryMB > 0 {
		out["agent_memory"] = formatFloat(float64(self.MemoryMB))
	}
	if self.CPUMHz > 0 {
		out["agent_cpu"] = formatFloat(float64(self.CPUMHz))
	}

	return out
}

// ComposeJobVars derives job's per-job variable namespace. overrideMemoryMB
// and overrideCPUMHz come from maand.jobs.conf's <job>.variables section
// (0 means "not overridden", in which case the max limit is used).
func ComposeJobVars(job *types.Job, overrideMemoryMB, overrideCPUMHz float64) map[string]string {
	out := map[string]string{}

	if job.MinMemoryMB > 0 || job.MaxMemoryMB > 0 {
		out["min_memory_limit"] = formatFloat(float64(job.MinMemoryMB))
		out["max_memory_limit"] = formatFloat(float64(job.MaxMemoryMB))
	}
	memory := overrideMemoryMB
	if memory == 0 {
		memory = float64(job.MaxMemoryMB)
	}
	if memory > 0 {
		out["memory"] = formatFloat(memory)
	}

	if job.MinCPUMHz > 0 || job.MaxCPUMHz > 0 {
		out["min_cpu_limit"] = formatFloat(float64(job.MinCPUMHz))
		out["max_cpu_limit"] = formatFloat(float64(job.MaxCPUMHz))
	}
	cpu := overrideCPUMHz
	if cpu == 0 {
		cpu = float64(job.MaxCPUMHz)
	}
	if cpu > 0 {
		out["cpu"] = formatFloat(cpu)
	}

	for name, port := range job.Ports {
		out["port_"+Lowercase(name)] = strconv.Itoa(port)
	}

	return out
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
