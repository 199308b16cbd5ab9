package main

import (
	"github.com/apex/log"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/puzzlefs/go-puzzlefs/builder"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

var buildCommand = cli.Command{
	Name:      "build",
	Usage:     "build a puzzlefs image from a host directory",
	ArgsUsage: "<rootfs> <oci-dir> <tag>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "base-layer", Usage: "tag of an existing image to build a delta against"},
		cli.StringFlag{Name: "min", Usage: "minimum chunk size (e.g. 64Ki)"},
		cli.StringFlag{Name: "avg", Usage: "target average chunk size (e.g. 2Mi)"},
		cli.StringFlag{Name: "max", Usage: "maximum chunk size (e.g. 8Mi)"},
	},
	Action: doBuild,
}

func parseChunkerParams(ctx *cli.Context) (builder.Params, error) {
	var p builder.Params
	if v := ctx.String("min"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return p, errors.Wrapf(err, "parsing --min %q", v)
		}
		p.Min = uint64(n)
	}
	if v := ctx.String("avg"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return p, errors.Wrapf(err, "parsing --avg %q", v)
		}
		p.Avg = uint64(n)
	}
	if v := ctx.String("max"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return p, errors.Wrapf(err, "parsing --max %q", v)
		}
		p.Max = uint64(n)
	}
	return p, nil
}

func doBuild(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.NewExitError("usage: puzzlefs build <rootfs> <oci-dir> <tag>", 1)
	}
	rootfs := ctx.Args().Get(0)
	ociDir := ctx.Args().Get(1)
	tag := ctx.Args().Get(2)

	params, err := parseChunkerParams(ctx)
	if err != nil {
		return err
	}

	image, err := oci.Open(ociDir)
	if err != nil {
		image, err = oci.New(ociDir)
		if err != nil {
			return errors.Wrapf(err, "opening or creating %q", ociDir)
		}
	}
	defer image.Close()

	var buildErr error
	if base := ctx.String("base-layer"); base != "" {
		d, err := builder.AddRootfsDelta(rootfs, image, base, params)
		if err != nil {
			return errors.Wrap(err, "building delta layer")
		}
		buildErr = image.AddTag(tag, d)
	} else {
		d, err := builder.BuildInitialRootfs(rootfs, image, params)
		if err != nil {
			return errors.Wrap(err, "building initial rootfs")
		}
		buildErr = image.AddTag(tag, d)
	}
	if buildErr != nil {
		return errors.Wrap(buildErr, "tagging image")
	}

	log.WithField("oci-dir", ociDir).WithField("tag", tag).Info("built puzzlefs image")
	return nil
}
