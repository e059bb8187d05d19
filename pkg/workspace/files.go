package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maand-sh/maand/pkg/types"
)

// WalkJobFiles reads every file (and directory marker) under a job's
// workspace directory into blob rows, the shape the job builder persists
// per spec.md §4.D. The _modules/ subtree is included like any other path;
// callers that need to treat it specially can check JobFile.IsModule.
func WalkJobFiles(jobDir string) ([]types.JobFile, error) {
	var files []types.JobFile

	err := filepath.WalkDir(jobDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(jobDir, path)
		if err != nil {
			return err
		}
		if rel == "." || rel == "manifest.json" {
			return nil
		}

		if d.IsDir() {
			files = append(files, types.JobFile{Path: rel, IsDir: true})
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read job file %s: %w", path, err)
		}
		files = append(files, types.JobFile{Path: rel, Content: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk job directory %s: %w", jobDir, err)
	}
	return files, nil
}
