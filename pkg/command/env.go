// Package command implements the command executor (spec.md §4.K): env
// assembly for a single allocation's command invocation, subprocess
// execution of staged _modules/ scripts, demand resolution, and the local
// kv_get/kv_put/demands callback the spec specifies as the command
// plugin's narrow API back into the controller.
package command

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/maand-sh/maand/pkg/types"
)

// reservedEnvNames are the fixed keys spec.md §6 guarantees every spawned
// command sees, beyond whatever host/job variables are merged in.
var reservedEnvNames = []string{
	"JOB", "COMMAND", "EVENT", "TARGET", "ALLOCATION_IP", "ALLOCATION_ID",
	"AGENT_IP", "AGENT_DIR", "SSH_USER", "SSH_KEY", "USE_SUDO", "BUCKET",
	"UPDATE_SEQ", "DISABLED",
}

// EnvSpec is everything needed to assemble one command invocation's
// environment (spec.md §4.K).
type EnvSpec struct {
	Host        *types.Host
	Job         *types.Job
	HostVars    map[string]string // composed host/<ip> namespace (component G)
	JobVars     map[string]string // composed job/<name> namespace (component G)
	Config      *types.ControllerConfig
	Bucket      *types.Bucket
	Command     string
	Event       types.HookEvent
	Target      string // the action (start/stop/restart) when applicable
	AgentDir    string // /opt/<bucket_id> on the target host
	Disabled    bool
}

// Assemble builds the full environment for one command invocation, as a
// sorted []string of "KEY=VALUE" pairs (sorted so invocations are
// reproducible and easy to diff in logs).
func Assemble(spec EnvSpec) []string {
	env := map[string]string{}

	for k, v := range spec.HostVars {
		env[k] = v
	}
	for k, v := range spec.JobVars {
		env[k] = v
	}

	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "MAAND_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				env[k] = v
			}
		}
	}

	env["JOB"] = spec.Job.Name
	env["COMMAND"] = spec.Command
	env["EVENT"] = string(spec.Event)
	env["TARGET"] = spec.Target
	env["ALLOCATION_IP"] = spec.Host.HostIP
	env["ALLOCATION_ID"] = spec.Host.HostID
	env["AGENT_IP"] = spec.Host.HostIP
	env["AGENT_DIR"] = spec.AgentDir
	env["SSH_USER"] = spec.Config.SSHUser
	env["SSH_KEY"] = spec.Config.SSHKey
	env["USE_SUDO"] = boolEnv(spec.Config.UseSudo)
	env["BUCKET"] = spec.Bucket.BucketID
	env["UPDATE_SEQ"] = strconv.FormatInt(spec.Bucket.UpdateSeq, 10)
	env["DISABLED"] = boolEnv(spec.Disabled)

	var keys []string
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// IsReservedEnvName reports whether name is one of the fixed env keys the
// executor always sets, so a job/host variable of the same name would be
// shadowed. pkg/vars.IsReservedKey keeps its own list of these names and
// does not call this function.
func IsReservedEnvName(name string) bool {
	for _, r := range reservedEnvNames {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}
