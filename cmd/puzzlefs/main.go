package main

import (
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/text"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli"
)

func main() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetHandler(logcli.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}
	if lvl := os.Getenv("PUZZLEFS_LOG_LEVEL"); lvl != "" {
		if parsed, err := log.ParseLevel(lvl); err == nil {
			log.SetLevel(parsed)
		}
	}

	app := cli.NewApp()
	app.Name = "puzzlefs"
	app.Usage = "build, mount and extract content-addressed container filesystems"
	app.Commands = []cli.Command{
		buildCommand,
		mountCommand,
		extractCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("puzzlefs failed")
		os.Exit(1)
	}
}
