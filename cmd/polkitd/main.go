//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"log"
	"os"

	"github.com/polkit-go/polkitd/cmd/polkitd/subcommands/check"
	"github.com/polkit-go/polkitd/cmd/polkitd/subcommands/serve"
	"github.com/polkit-go/polkitd/cmd/polkitd/version"
	"github.com/urfave/cli/v3"
)

var dirFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "rules-dir",
		Usage: "Directory to load \"*.rules\" files from, highest precedence first. Can be specified multiple times.",
	},
	&cli.StringSliceFlag{
		Name:  "policy-dir",
		Usage: "Directory to load \"*.policy\" action-description files from. Can be specified multiple times.",
	},
}

func main() {
	cmd := &cli.Command{
		Name:    "polkitd",
		Usage:   "A PolicyKit-style authorization authority",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "foreground",
				Usage: "Run in the foreground (the default; accepted for supervisor compatibility)",
				Value: true,
			},
		},
		// With no subcommand, polkitd runs its daemon loop directly, per
		// spec.md §6: "a single binary with no required arguments".
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve.Execute(ctx, cmd)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Starts the authorization authority and its demo HTTP boundary",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port the demo HTTP boundary listens on",
						Value: 8080,
					},
				}, dirFlags...),
				Action: serve.Execute,
			},
			{
				Name:  "check",
				Usage: "Evaluates a single check_authorization call and prints the decision",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:     "pid",
						Usage:    "The pid of the subject process to check",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "action",
						Usage:    "The action id to check",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "detail",
						Usage: "A key=value detail to attach to the request. Can be specified multiple times.",
					},
					&cli.BoolFlag{
						Name:  "allow-interaction",
						Usage: "Permit the authority to dispatch an authentication-agent dialogue",
					},
				}, dirFlags...),
				Action: check.Execute,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
