package health

import (
	"context"
	"fmt"
	"time"
)

// Gate polls checker up to cfg.Attempts times, cfg.Interval apart, until it
// reports healthy. It returns the final Status; the caller decides how to
// surface "failed" (spec.md §9 open question: the retry loop returns
// "failed (boolean)" and the caller exits non-zero when true — this
// package exposes that as !Status.Healthy rather than a negated flag, to
// avoid the ambiguity the source variants disagreed on).
func Gate(ctx context.Context, checker Checker, cfg Config) (*Status, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	status := &Status{}
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return status, fmt.Errorf("health gate canceled: %w", err)
		}
		result := checker.Check(ctx)
		status.Update(result)
		if result.Healthy {
			return status, nil
		}
		if attempt < cfg.Attempts {
			select {
			case <-ctx.Done():
				return status, fmt.Errorf("health gate canceled: %w", ctx.Err())
			case <-time.After(cfg.Interval):
			}
		}
	}
	return status, nil
}
