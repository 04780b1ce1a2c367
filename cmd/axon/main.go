// Package main is the entry of the application.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/axon/internal/cmdhelper"
	"github.com/wuxler/axon/internal/commands"
	"github.com/wuxler/axon/internal/commands/client"
	"github.com/wuxler/axon/internal/commands/serve"
)

func main() {
	app := cli.Command{
		Name:                  "axon",
		Usage:                 "axon is a content-addressed blob store",
		Suggest:               true,
		EnableShellCompletion: true,
		HideVersion:           true,
		HideHelpCommand:       true,
		Commands: []*cli.Command{
			commands.NewVersionCommand().ToCLI(),
			serve.New().ToCLI(),
			client.NewGetCommand().ToCLI(),
			client.NewPutCommand().ToCLI(),
			client.NewWgetCommand().ToCLI(),
		},
		ExitErrHandler: func(ctx context.Context, c *cli.Command, err error) {
			cli.HandleExitCoder(err)
			cmdhelper.Fprintf(c.ErrWriter, "Error: %+v\n", err)
			os.Exit(1)
		},
	}
	//nolint:errcheck // already checked in root command ExitErrHandler
	_ = app.Run(context.Background(), os.Args)
}
