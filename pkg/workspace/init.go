package workspace

import (
	"os"
	"path/filepath"
)

const skeletonAgents = "[]\n"
const skeletonConf = "[default]\nuse_sudo = 0\nssh_user = maand\nssh_key = id_rsa\ncerts_ttl = 60\n"

// Init scaffolds a fresh workspace/ tree (agents.json, maand.jobs.conf,
// maand.vars, and an empty jobs/ directory) plus maand.conf at root. It is the
// entry point behind the `maand init` command; existing files are left
// untouched so re-running init is safe.
func Init(root string) error {
	wsDir := filepath.Join(root, "workspace")
	if err := os.MkdirAll(filepath.Join(wsDir, "jobs"), 0755); err != nil {
		return err
	}

	files := map[string]string{
		filepath.Join(wsDir, "agents.json"):      skeletonAgents,
		filepath.Join(wsDir, "maand.jobs.conf"):   "",
		filepath.Join(wsDir, "maand.vars"):        "",
		filepath.Join(root, "maand.conf"):          skeletonConf,
	}

	for path, content := range files {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
