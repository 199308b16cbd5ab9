//go:build fuse

package main

import (
	"strings"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/pkg/errors"

	"github.com/puzzlefs/go-puzzlefs/fusefs"
	"github.com/puzzlefs/go-puzzlefs/oci"
	"github.com/puzzlefs/go-puzzlefs/reader"
)

// runMount opens the image, mounts it at mountpoint, calls notify once the
// kernel has accepted the mount, and then serves requests until unmounted.
func runMount(ociDir, tag, mountpoint, options string, notify func() error) error {
	image, err := oci.Open(ociDir)
	if err != nil {
		return errors.Wrapf(err, "opening %q", ociDir)
	}
	defer image.Close()
	pfs, err := reader.Open(image, tag)
	if err != nil {
		return errors.Wrapf(err, "opening tag %q", tag)
	}

	opts := &fs.Options{}
	if options != "" {
		opts.MountOptions.Options = append(opts.MountOptions.Options, strings.Split(options, ",")...)
	}

	server, err := fusefs.Mount(pfs, mountpoint, opts)
	if err != nil {
		return errors.Wrap(err, "mounting")
	}

	if err := notify(); err != nil {
		return errors.Wrap(err, "signaling readiness")
	}

	server.Wait()
	return nil
}
