package workspace

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/maand-sh/maand/pkg/errs"
	"github.com/maand-sh/maand/pkg/types"
)

// LoadDisabledOverrides parses the optional workspace/disabled.json. A
// missing file means nothing is disabled.
func LoadDisabledOverrides(path string) (*types.DisabledOverrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.DisabledOverrides{}, nil
		}
		return nil, fmt.Errorf("read disabled overrides %s: %w", path, err)
	}

	var overrides types.DisabledOverrides
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, errs.SchemaValidation("disabled overrides %s is not valid JSON: %v", path, err)
	}
	return &overrides, nil
}
