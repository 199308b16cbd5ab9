package main

import (
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/puzzlefs/go-puzzlefs/extractor"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

var extractCommand = cli.Command{
	Name:      "extract",
	Usage:     "extract a tag's rootfs to a host directory",
	ArgsUsage: "<oci-dir> <tag> <extract-dir>",
	Action:    doExtract,
}

func doExtract(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.NewExitError("usage: puzzlefs extract <oci-dir> <tag> <extract-dir>", 1)
	}
	ociDir := ctx.Args().Get(0)
	tag := ctx.Args().Get(1)
	extractDir := ctx.Args().Get(2)

	image, err := oci.Open(ociDir)
	if err != nil {
		return errors.Wrapf(err, "opening %q", ociDir)
	}
	defer image.Close()

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %q", extractDir)
	}

	if err := extractor.Extract(image, tag, extractDir); err != nil {
		return errors.Wrap(err, "extracting")
	}

	log.WithField("extract-dir", extractDir).WithField("tag", tag).Info("extracted puzzlefs image")
	return nil
}
