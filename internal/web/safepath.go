package web

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SafePath resolves userPath against base and fails when the result leaves
// base. Absolute user paths are accepted only inside base.
func SafePath(base, userPath string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	var resolved string
	if filepath.IsAbs(userPath) {
		resolved = filepath.Clean(userPath)
	} else {
		resolved = filepath.Clean(filepath.Join(absBase, userPath))
	}

	if !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) && resolved != absBase {
		return "", fmt.Errorf("path %q escapes base directory %q", userPath, absBase)
	}
	return resolved, nil
}

// CreateUnder creates (or truncates) userPath inside base, making parent
// directories as needed.
func CreateUnder(base, userPath string) (*os.File, string, error) {
	path, err := SafePath(base, userPath)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, "", fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}
