package util

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome resolves a leading "~/" against the current user's home
// directory. Paths without the prefix are returned unchanged, as is the
// input when the home directory cannot be determined.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
