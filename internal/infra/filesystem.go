package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const DefaultDotPath = "~/.forumwarden"

// GetWorkDir expands dotPath, joins path onto it and makes sure the
// directory exists.
func GetWorkDir(dotPath string, path ...string) (string, error) {
	if dotPath == "" {
		dotPath = DefaultDotPath
	}
	parts := append([]string{dotPath}, path...)
	workDir, err := homedir.Expand(filepath.Join(parts...))
	if err != nil {
		return "", fmt.Errorf("expand work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return "", fmt.Errorf("create work dir %s: %w", workDir, err)
	}
	return workDir, nil
}
