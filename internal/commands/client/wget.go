package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/axon/internal/axonconfig"
	"github.com/wuxler/axon/internal/axonfetch"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/cmdhelper"
	"github.com/wuxler/axon/internal/hashlock"
	"github.com/wuxler/axon/internal/xio"
	"github.com/wuxler/axon/internal/xos"
)

// NewWgetCommand returns a wget command with default values.
func NewWgetCommand() *WgetCommand {
	return &WgetCommand{Config: axonconfig.New(), Timeout: 5 * time.Minute}
}

// WgetCommand fetches a URL and stores the response body directly in a
// local Axon store, without requiring a running HTTP front-end: the
// URL fetcher is an engine-level operation (spec §4.6), not one of the
// store's own HTTP endpoints.
type WgetCommand struct {
	Config    *axonconfig.Config
	Method    string
	VerifyTLS bool
	Timeout   time.Duration
}

// ToCLI transforms to a *cli.Command.
func (c *WgetCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:      "wget",
		Usage:     "Fetch a URL and store the response body by its SHA-256 digest",
		ArgsUsage: "<url>",
		UsageText: `axon wget [OPTIONS] <url>

# Fetch and store a file, computing its digest along the way
$ axon wget --root /var/lib/axon https://example.com/archive.tar.gz
`,
		Flags:  c.Flags(),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current command.
func (c *WgetCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "root",
			Usage:       "path to the axon store data directory",
			Sources:     cli.EnvVars("AXON_ROOT"),
			Value:       c.Config.Root,
			Destination: &c.Config.Root,
			Category:    axonconfig.FlagCategory,
		},
		&cli.StringFlag{
			Name:        "method",
			Usage:       "HTTP method to use",
			Value:       "GET",
			Destination: &c.Method,
			Category:    defaultServerFlagCategory,
		},
		&cli.BoolFlag{
			Name:        "verify-tls",
			Usage:       "verify the remote TLS certificate",
			Value:       true,
			Destination: &c.VerifyTLS,
			Category:    defaultServerFlagCategory,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "total request timeout",
			Value:       c.Timeout,
			Destination: &c.Timeout,
			Category:    defaultServerFlagCategory,
		},
		&cli.StringFlag{
			Name:        "http-proxy",
			Usage:       "proxy URL used by the fetcher, http:// or socks5://",
			Sources:     cli.EnvVars("AXON_HTTP_PROXY"),
			Value:       c.Config.HTTPProxy,
			Destination: &c.Config.HTTPProxy,
			Category:    axonconfig.FlagCategory,
		},
	}
	return flags
}

// Run implements *cli.Command Action function.
func (c *WgetCommand) Run(ctx context.Context, cmd *cli.Command) error {
	url := cmd.Args().First()
	if url == "" {
		return fmt.Errorf("wget requires a URL argument")
	}

	store, err := axonstore.Open(c.Config.Root, clock.New())
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(store, "close axon store")

	engine := blobengine.New(store, hashlock.New(), blobengine.Limits{
		MaxBytes: c.Config.MaxBytes,
		MaxCount: c.Config.MaxCount,
	})
	temp := xos.NewTemper(c.Config.Root, "axon-wget-*")
	defer temp.Cleanup() //nolint:errcheck // best-effort cleanup

	fetcher := axonfetch.New(engine, temp)
	result, err := fetcher.Fetch(ctx, axonfetch.Request{
		URL:       url,
		Method:    c.Method,
		VerifyTLS: c.VerifyTLS,
		Timeout:   c.Timeout,
		HTTPProxy: c.Config.HTTPProxy,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	cmdhelper.Fprintf(cmd.Writer, "%s\n", data)
	return nil
}
