package workspace

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/types"
)

// LoadInventory parses workspace/agents.json: an ordered array of hosts.
// Array order defines each host's position (spec.md §6).
func LoadInventory(path string) ([]types.InventoryHost, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", path, err)
	}

	var hosts []types.InventoryHost
	if err := json.Unmarshal(raw, &hosts); err != nil {
		return nil, errs.SchemaValidation("inventory %s is not a valid JSON array: %v", path, err)
	}

	for i, h := range hosts {
		if h.Host == "" {
			return nil, errs.SchemaValidation("inventory entry %d is missing required field \"host\"", i)
		}
		if ip := net.ParseIP(h.Host); ip == nil || ip.To4() == nil {
			return nil, errs.SchemaValidation("inventory entry %d: %q is not a valid IPv4 address", i, h.Host)
		}
	}
	return hosts, nil
}
