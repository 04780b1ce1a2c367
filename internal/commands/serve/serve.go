// Package serve implements the "serve" CLI command: it opens an Axon
// store at a configured root directory and exposes it over HTTP.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/axon/internal/axonconfig"
	"github.com/wuxler/axon/internal/axonhttp"
	"github.com/wuxler/axon/internal/axonlog"
	"github.com/wuxler/axon/internal/axonstore"
	"github.com/wuxler/axon/internal/blobengine"
	"github.com/wuxler/axon/internal/cmdhelper"
	"github.com/wuxler/axon/internal/hashlock"
	"github.com/wuxler/axon/internal/xio"
	"github.com/wuxler/axon/internal/xos"
)

// New returns a Command with default values.
func New() *Command {
	return &Command{Config: axonconfig.New()}
}

// Command is the "serve" command.
type Command struct {
	Config     *axonconfig.Config
	ConfigFile string
}

// ToCLI transforms to a *cli.Command.
func (c *Command) ToCLI() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server"},
		Usage:   "Start the Axon store HTTP server",
		UsageText: `axon serve [OPTIONS]

# Start the server with default port 8080
$ axon serve

# Start the server with custom port and data directory
$ axon serve --port 9000 --root /var/lib/axon
`,
		Flags:  c.Flags(),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current command.
func (c *Command) Flags() []cli.Flag {
	flags := append([]cli.Flag{}, c.Config.Flags()...)
	flags = append(flags, &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "path to a YAML config file, merged over the flag defaults",
		Sources:     cli.EnvVars("AXON_CONFIG"),
		Destination: &c.ConfigFile,
		Category:    axonconfig.FlagCategory,
	})
	return flags
}

// Run is the main function for the current command.
func (c *Command) Run(ctx context.Context, cmd *cli.Command) error {
	if c.ConfigFile != "" {
		if err := c.Config.LoadFile(c.ConfigFile); err != nil {
			return err
		}
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}

	store, err := axonstore.Open(c.Config.Root, clock.New())
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(store, "close axon store")

	if err := store.Recover(axonlog.Default()); err != nil {
		return fmt.Errorf("failed to recover store metrics: %w", err)
	}

	engine := blobengine.New(store, hashlock.New(), blobengine.Limits{
		MaxBytes: c.Config.MaxBytes,
		MaxCount: c.Config.MaxCount,
	})
	temp := xos.NewTemper(c.Config.Root, "axon-upload-*")
	defer temp.Cleanup() //nolint:errcheck // best-effort cleanup on shutdown

	gin.SetMode(gin.ReleaseMode)
	router := axonhttp.New(engine, temp, axonhttp.AllowAll{}).Router()

	address := c.Config.Address()
	srv := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			axonlog.C(ctx).Error("server error", "error", err)
		}
	}()

	cmdhelper.Fprintf(cmd.Writer, "Axon store listening at http://%s (data: %s)\n", address, c.Config.Root)
	cmdhelper.Fprintf(cmd.Writer, "Press Ctrl+C to stop the server\n")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		axonlog.C(ctx).Error("server shutdown failed", "error", err)
		return err
	}

	axonlog.C(ctx).Info("server stopped")
	return nil
}
