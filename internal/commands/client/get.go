package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/axon/internal/cmdhelper"
	"github.com/wuxler/axon/internal/xio"
)

// createOutputFile opens path for writing, creating its parent
// directory if needed, so --output can name a path under a directory
// that doesn't exist yet.
func createOutputFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

// NewGetCommand returns a get command with default values.
func NewGetCommand() *GetCommand {
	return &GetCommand{Server: "http://127.0.0.1:8080", Timeout: 30 * time.Second}
}

// GetCommand downloads a blob by its SHA-256 digest from a running
// Axon store.
type GetCommand struct {
	Server  string
	Output  string
	Timeout time.Duration
	Debug   bool
	Subject string
}

// ToCLI transforms to a *cli.Command.
func (c *GetCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download a blob by its SHA-256 digest",
		ArgsUsage: "<sha256>",
		UsageText: `axon get [OPTIONS] <sha256>

# Print a blob to stdout
$ axon get ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad

# Save a blob to a file
$ axon get --output out.bin ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad
`,
		Flags:  c.Flags(),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current command.
func (c *GetCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "server",
			Usage:       "base URL of the running Axon store",
			Sources:     cli.EnvVars("AXON_SERVER"),
			Value:       c.Server,
			Destination: &c.Server,
			Category:    defaultServerFlagCategory,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "write the blob to this file instead of stdout",
			Destination: &c.Output,
			Category:    defaultServerFlagCategory,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "request timeout",
			Value:       c.Timeout,
			Destination: &c.Timeout,
			Category:    defaultServerFlagCategory,
		},
		&cli.BoolFlag{
			Name:        "debug-http",
			Usage:       "dump HTTP requests and responses to stderr",
			Destination: &c.Debug,
			Category:    defaultServerFlagCategory,
		},
		&cli.StringFlag{
			Name:        "subject",
			Usage:       "identity to assert via the X-Axon-Subject header",
			Sources:     cli.EnvVars("AXON_SUBJECT"),
			Destination: &c.Subject,
			Category:    defaultServerFlagCategory,
		},
	}
}

// Run implements *cli.Command Action function.
func (c *GetCommand) Run(_ context.Context, cmd *cli.Command) error {
	hex := cmd.Args().First()
	if hex == "" {
		return fmt.Errorf("get requires a sha256 digest argument")
	}

	httpClient := newHTTPClient(c.Timeout, c.Debug)
	url := fmt.Sprintf("%s/api/v1/axon/files/by/sha256/%s", strings.TrimRight(c.Server, "/"), hex)
	resp, err := doRequest(httpClient, "GET", url, c.Subject, nil)
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(resp.Body, "close response body")

	out := cmd.Writer
	if c.Output != "" {
		f, err := createOutputFile(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file %s: %w", c.Output, err)
		}
		defer xio.CloseAndLogError(f, "close output file")
		out = f
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return err
	}
	if c.Output != "" {
		cmdhelper.Fprintf(cmd.ErrWriter, "wrote %d bytes to %s\n", n, c.Output)
	}
	return nil
}
