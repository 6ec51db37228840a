package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	descriptorExt = ".uproject"
	logSuffix     = ".log"
)

// ErrInvalidProject means the directory holds no project descriptor.
var ErrInvalidProject = errors.New("cannot find uproject file on entered path")

// logsSubdir is relative to the project root.
var logsSubdir = filepath.Join("Saved", "Logs")

// ProjectName returns the project name of the descriptor in dir. When a
// directory holds several descriptors the lexically first one wins.
func ProjectName(dir string) (string, bool) {
	if strings.TrimSpace(dir) == "" {
		return "", false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, 1)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if len(name) > len(descriptorExt) && strings.EqualFold(filepath.Ext(name), descriptorExt) {
			names = append(names, strings.TrimSuffix(name, filepath.Ext(name)))
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// LogPath derives <dir>/Saved/Logs/<project>.log.
func LogPath(dir string) (string, error) {
	name, ok := ProjectName(dir)
	if !ok {
		return "", fmt.Errorf("%s: %w", dir, ErrInvalidProject)
	}
	return filepath.Join(dir, logsSubdir, name+logSuffix), nil
}

// ExpandPath resolves a leading "~" and makes the path absolute.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
