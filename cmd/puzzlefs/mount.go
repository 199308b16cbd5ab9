package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var mountCommand = cli.Command{
	Name:      "mount",
	Usage:     "mount a tag's rootfs read-only at a mountpoint",
	ArgsUsage: "<oci-dir> <tag> <mountpoint>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "foreground, f", Usage: "do not daemonize; run the filesystem loop in this process"},
		cli.StringFlag{Name: "init-pipe", Usage: "named pipe to write one byte to once the filesystem is ready"},
		cli.StringSliceFlag{Name: "o", Usage: "comma-separated mount options"},
	},
	Action: doMount,
}

// notifyFDEnv carries the inherited pipe write-end fd number across the
// self-reexec that implements daemonization (spec section 6, "mount
// without --foreground daemonizes").
const notifyFDEnv = "PUZZLEFS_NOTIFY_FD"

func doMount(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.NewExitError("usage: puzzlefs mount <oci-dir> <tag> <mountpoint>", 1)
	}
	ociDir := ctx.Args().Get(0)
	tag := ctx.Args().Get(1)
	mountpoint := ctx.Args().Get(2)
	options := strings.Join(ctx.StringSlice("o"), ",")

	if ctx.Bool("foreground") {
		return mountForeground(ociDir, tag, mountpoint, options, ctx.String("init-pipe"))
	}
	return mountDaemonized(ociDir, tag, mountpoint, options)
}

// mountForeground runs the FUSE serve loop in the current process. It
// notifies readiness two ways: via the fd inherited from a daemonizing
// parent (notifyFromEnv, a no-op unless this is a re-exec'd daemon
// child), and via a user-supplied named pipe (--init-pipe) for external
// synchronization when invoked directly in the foreground.
func mountForeground(ociDir, tag, mountpoint, options, initPipe string) error {
	envNotify := notifyFromEnv()
	notify := func() error {
		if err := envNotify(); err != nil {
			return err
		}
		if initPipe == "" {
			return nil
		}
		f, err := os.OpenFile(initPipe, os.O_WRONLY, 0)
		if err != nil {
			return errors.Wrapf(err, "opening init pipe %q", initPipe)
		}
		defer f.Close()
		_, err = f.Write([]byte{0})
		return err
	}
	return runMount(ociDir, tag, mountpoint, options, notify)
}

// mountDaemonized re-executes the current binary with --foreground,
// inheriting the write end of an anonymous pipe via ExtraFiles. The
// daemon child writes one byte to it once mounted; this (parent) process
// blocks on the read end until that byte arrives, then exits, the way
// the original implementation's fork-based daemonize blocked the parent
// on an exit_action reading from a pipe.
func mountDaemonized(ociDir, tag, mountpoint, options string) error {
	notifyRead, notifyWrite, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "creating notify pipe")
	}

	args := []string{"mount", "--foreground"}
	if options != "" {
		args = append(args, "-o", options)
	}
	args = append(args, ociDir, tag, mountpoint)

	// Stdin/Stdout/Stderr are left unset (/dev/null) to detach the child
	// from this process's controlling terminal.
	child := exec.Command(os.Args[0], args...)
	child.ExtraFiles = []*os.File{notifyWrite}
	child.Env = append(os.Environ(), notifyFDEnv+"=3")
	child.SysProcAttr = daemonSysProcAttr()

	if err := child.Start(); err != nil {
		notifyWrite.Close()
		notifyRead.Close()
		return errors.Wrap(err, "starting daemon child")
	}
	notifyWrite.Close()

	buf := make([]byte, 1)
	if _, err := notifyRead.Read(buf); err != nil {
		return errors.Wrap(err, "waiting for daemon readiness")
	}
	notifyRead.Close()

	log.WithField("mountpoint", mountpoint).Info("puzzlefs mounted")
	return nil
}

// notifyFromEnv returns a notify func that writes to the fd named by
// PUZZLEFS_NOTIFY_FD, for the re-exec'd daemon child, or a no-op if unset
// (plain --foreground invocation with no daemonizing parent waiting).
func notifyFromEnv() func() error {
	v := os.Getenv(notifyFDEnv)
	if v == "" {
		return func() error { return nil }
	}
	return func() error {
		f := os.NewFile(3, "notify")
		if f == nil {
			return nil
		}
		defer f.Close()
		_, err := f.Write([]byte{0})
		return err
	}
}
