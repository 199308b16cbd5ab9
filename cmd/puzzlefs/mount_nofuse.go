//go:build !fuse

package main

import "github.com/pkg/errors"

// runMount without the fuse build tag: this binary was built without FUSE
// support (go-fuse is Linux/macOS only and pulls in cgo-free but
// platform-specific syscalls), so mounting is unavailable.
func runMount(ociDir, tag, mountpoint, options string, notify func() error) error {
	return errors.New("puzzlefs was built without FUSE support (build with -tags fuse)")
}
