// Command execctl drives a worker from the command line: it opens a session,
// optionally installs classes, runs one invoke or variable query and prints
// the result. An interrupt stops the running code; a second one closes the
// session.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "execctl",
		Usage: "run code in an isolated worker process",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML config file; flags given on the command line override it",
			},
			&cli.StringFlag{
				Name:    "worker",
				Usage:   "path to the execworker binary",
				EnvVars: []string{"EXECCTL_WORKER"},
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "how to start the worker: launch, listen or failover",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "interface the listen strategy accepts the debug connection on",
			},
			&cli.StringSliceFlag{
				Name:  "vm-option",
				Usage: "worker option placed ahead of the protocol arguments (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "connector-arg",
				Usage: "connector argument as name=value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "accept-timeout",
				Usage: "how long to wait for the worker to connect back",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log at debug level",
			},
		},
		Commands: []*cli.Command{
			invokeCommand(),
			varCommand(),
			connectorsCommand(),
		},
	}
}
