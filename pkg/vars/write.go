package vars

import (
	"fmt"

	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/storage"
)

// Sync writes vars into namespace ns, and deletes any previously written
// key not present in vars, so a label or tag that disappears between runs
// doesn't leave a stale value behind (spec.md §4.G).
func Sync(tx storage.Tx, ns string, values map[string]string) error {
	existing, err := tx.ListKeys(ns)
	if err != nil {
		return fmt.Errorf("list existing keys in %s: %w", ns, err)
	}

	for key, value := range values {
		if err := tx.Put(ns, key, value, 0); err != nil {
			return fmt.Errorf("put %s/%s: %w", ns, key, err)
		}
		metrics.KVWritesTotal.WithLabelValues("vars").Inc()
	}

	for _, key := range existing {
		if _, ok := values[key]; !ok {
			if err := tx.Delete(ns, key); err != nil {
				return fmt.Errorf("delete stale %s/%s: %w", ns, key, err)
			}
		}
	}
	return nil
}
