// Package render implements the template renderer (spec.md §4.J): textual
// substitution of $var / ${var} placeholders against the composed
// variable map, over every staged file whose extension is in the
// renderable set. It never interprets file content beyond placeholder
// substitution, and leaves a file untouched when its rendered form is
// byte-identical to what's on disk, to preserve mtime for rsync.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// renderableExtensions is the set spec.md §4.J names.
var renderableExtensions = map[string]bool{
	".json": true, ".service": true, ".conf": true,
	".yml": true, ".yaml": true, ".env": true, ".txt": true,
}

// placeholder matches Python string.Template-style references:
// ${identifier} or $identifier, the substitution syntax original_source
// uses throughout its job file templates.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// UndefinedVariableError reports a template reference with no entry in
// the variable map; strict mode (spec.md §4.J) treats this as fatal.
type UndefinedVariableError struct {
	File     string
	Variable string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("%s: undefined template variable %q", e.File, e.Variable)
}

// RenderString substitutes every placeholder in content against vars,
// returning UndefinedVariableError (wrapped with file for context) on the
// first reference with no entry.
func RenderString(file, content string, vars map[string]string) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(content, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := placeholder.FindStringSubmatch(match)
		key := name[1]
		if key == "" {
			key = name[2]
		}
		value, ok := vars[key]
		if !ok {
			firstErr = &UndefinedVariableError{File: file, Variable: key}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// IsRenderable reports whether path's extension is one the renderer
// processes; other files under a staged job tree are copied byte-for-byte
// without substitution.
func IsRenderable(path string) bool {
	return renderableExtensions[strings.ToLower(filepath.Ext(path))]
}

// Tree renders every renderable file under root in place. Idempotence: a
// file whose rendered content equals its current content is not
// rewritten, so its mtime (and therefore rsync's decision to skip it) is
// undisturbed.
func Tree(root string, vars map[string]string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsRenderable(path) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rendered, err := RenderString(rel, string(raw), vars)
		if err != nil {
			return err
		}
		if rendered == string(raw) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(rendered), info.Mode()); err != nil {
			return fmt.Errorf("write rendered %s: %w", path, err)
		}
		return nil
	})
}
