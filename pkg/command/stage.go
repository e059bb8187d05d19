package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maand-sh/maand/pkg/types"
)

const modulesPrefix = "_modules/"

// StageModuleRoot extracts job's _modules/ blob subtree into scratchRoot,
// the scratch directory a command invocation runs from (spec.md §4.K).
func StageModuleRoot(job *types.Job, scratchRoot string) error {
	if err := os.MkdirAll(scratchRoot, 0755); err != nil {
		return fmt.Errorf("create scratch module root %s: %w", scratchRoot, err)
	}
	for _, f := range job.Files {
		if !strings.HasPrefix(f.Path, modulesPrefix) {
			continue
		}
		rel := strings.TrimPrefix(f.Path, modulesPrefix)
		if rel == "" {
			continue
		}
		dest := filepath.Join(scratchRoot, rel)
		if f.IsDir {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("create parent of %s: %w", dest, err)
		}
		if err := os.WriteFile(dest, f.Content, 0755); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
	}
	return nil
}

// ResolveEntrypoint finds the staged script backing commandName: either
// <scratchRoot>/<commandName> or <scratchRoot>/<commandName>.sh.
func ResolveEntrypoint(scratchRoot, commandName string) (string, error) {
	for _, candidate := range []string{commandName, commandName + ".sh"} {
		path := filepath.Join(scratchRoot, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no command file found for %q under %s", commandName, scratchRoot)
}
