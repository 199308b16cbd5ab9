//go:build windows

package oci

import (
	"os"
	"path/filepath"
)

// openRelative opens rel relative to dir's path. Windows has no openat
// equivalent in the standard library, so this falls back to a plain
// path join; dir is still the single handle captured once at Image-open
// time and is the only source this path is derived from.
func openRelative(dir *os.File, rel string) (*os.File, error) {
	return os.Open(filepath.Join(dir.Name(), rel))
}
