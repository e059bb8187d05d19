package vars

import (
	"fmt"

	"github.com/maand-sh/maand/pkg/storage"
)

// Read loads every key in namespace ns into a map, the read-side
// counterpart to Sync: the deployment orchestrator and the command
// executor both need the variable namespace component G wrote, not just
// the ability to write it.
func Read(tx storage.Tx, ns string) (map[string]string, error) {
	keys, err := tx.ListKeys(ns)
	if err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", ns, err)
	}
	out := map[string]string{}
	for _, k := range keys {
		v, ok, err := tx.Get(ns, k)
		if err != nil {
			return nil, fmt.Errorf("get %s/%s: %w", ns, k, err)
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}
