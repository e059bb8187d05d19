/*
Package health implements the health-gate polling loop spec.md §4.I and
§5 describe: a job's health_check hook is a subprocess invoked by
pkg/command, and Gate wraps it in a poll-interval/attempt-budget loop.

# Where it is used

The deployment orchestrator (pkg/deploy) calls Gate after starting new
allocations, after restarting changed ones, and after stopping removed
ones when only part of a job's allocations is removed (a job withdrawn
from every host is stopped without a gate), using health.DeployConfig (5s
interval, 20 attempts). The standalone `health-check` command
(pkg/command.RunHealthCheck) gives each allocation a single attempt, or
uses health.DefaultConfig (5s interval, 10 attempts) under --wait.

# Checker

A Checker runs one attempt and reports Healthy. The only implementation
in this repo is ExecChecker, which runs the staged health_check command as
a subprocess with the allocation's assembled environment (spec.md §4.K)
and treats a zero exit code as healthy. Gate is checker-agnostic so a
future job type could supply a different Checker without touching the
polling logic.

# Failure semantics

Gate returns a *Status whose Healthy field is the authoritative outcome;
callers exit non-zero when it is false. spec.md §9 notes that one source
variant negated this flag before returning it to its caller — this
package avoids that ambiguity by never inverting the result.
*/
package health
