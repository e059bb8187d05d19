package health

import (
	"context"
	"time"
)

// CheckType identifies how a health_check hook's single attempt was
// produced. The controller only ever drives Exec checks (the hook is a
// subprocess per spec.md §4.K); a Checker reports its type through
// Checker.Type, and CheckTypeExec is the only value defined.
type CheckType string

const (
	CheckTypeExec CheckType = "exec"
)

// Result represents the outcome of a single health_check hook attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface a single health-check attempt implements.
// pkg/command's hook runner satisfies this by invoking the job's
// health_check command and mapping its exit code to Healthy.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls a gate's poll cadence and retry budget (spec.md §5: "a
// health-check gate polls with a default interval of 5 seconds, default 10
// attempts ... extended to 20 in deploy paths").
type Config struct {
	// Interval is the time between poll attempts.
	Interval time.Duration

	// Attempts is the total number of attempts allowed before the gate
	// reports failure (spec.md §8 boundary behaviors; §5 concurrency).
	Attempts int
}

// DefaultConfig is the cadence the standalone `health-check` command uses
// under --wait, and the one run-command's --health_check gate uses.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, Attempts: 10}
}

// DeployConfig is the cadence run_target uses for its per-allocation and
// job-level gates during a deploy (spec.md §5: "extended to 20 in deploy
// paths").
func DeployConfig() Config {
	return Config{Interval: 5 * time.Second, Attempts: 20}
}

// Status accumulates the outcome of a gate across its attempts.
type Status struct {
	Attempts   int
	LastResult Result
	Healthy    bool
}

// Update records one attempt's result.
func (s *Status) Update(result Result) {
	s.Attempts++
	s.LastResult = result
	s.Healthy = result.Healthy
}
