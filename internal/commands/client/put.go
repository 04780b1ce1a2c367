package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/axon/internal/cmdhelper"
	"github.com/wuxler/axon/internal/xio"
)

// NewPutCommand returns a put command with default values.
func NewPutCommand() *PutCommand {
	return &PutCommand{Server: "http://127.0.0.1:8080", Timeout: 5 * time.Minute}
}

// PutCommand uploads a file to a running Axon store.
type PutCommand struct {
	Server  string
	Timeout time.Duration
	Debug   bool
	Subject string
}

// ToCLI transforms to a *cli.Command.
func (c *PutCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Upload a file to a running Axon store",
		ArgsUsage: "<path|->",
		UsageText: `axon put [OPTIONS] <path>

# Upload a file
$ axon put report.pdf

# Upload from stdin
$ cat report.pdf | axon put -
`,
		Flags:  c.Flags(),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current command.
func (c *PutCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "server",
			Usage:       "base URL of the running Axon store",
			Sources:     cli.EnvVars("AXON_SERVER"),
			Value:       c.Server,
			Destination: &c.Server,
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

type putResult struct {
	Status string `json:"status"`
	Result struct {
		Size   int64  `json:"size"`
		SHA256 string `json:"sha256"`
		MD5    string `json:"md5"`
		SHA1   string `json:"sha1"`
		SHA512 string `json:"sha512"`
	} `json:"result"`
}

// Run implements *cli.Command Action function.
func (c *PutCommand) Run(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("put requires a file path argument, or - for stdin")
	}

	var body io.Reader
	if path == "-" {
		body = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer xio.CloseAndLogError(f, "close input file")
		body = f
	}

	httpClient := newHTTPClient(c.Timeout, c.Debug)
	url := fmt.Sprintf("%s/api/v1/axon/files/put", strings.TrimRight(c.Server, "/"))
	resp, err := doRequest(httpClient, http.MethodPut, url, c.Subject, body)
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(resp.Body, "close response body")

	var result putResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode put response: %w", err)
	}

	cmdhelper.Fprintf(cmd.Writer, "sha256:%s (%d bytes)\n", result.Result.SHA256, result.Result.Size)
	return nil
}
