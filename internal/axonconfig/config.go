// Package axonconfig defines the runtime configuration for an Axon store
// and the CLI flags that populate it.
package axonconfig

import (
	"fmt"
	stdurl "net/url"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// fs is the filesystem LoadFile reads through. Overridden in tests with
// afero.NewMemMapFs() so config-loading tests never touch disk; bbolt
// (internal/axonstore) needs a real *os.File for its mmap, so afero
// cannot back the blob tables themselves, but it fits the config
// loader's file access cleanly.
var fs afero.Fs = afero.NewOsFs()

const (
	// FlagCategory is the category name for axon store flags.
	FlagCategory = "[Axon]"

	// DefaultServerPort is the default port for the server to listen on.
	DefaultServerPort int64 = 8080

	// DefaultServerHost is the default host for the server to listen on.
	DefaultServerHost = "127.0.0.1"
)

// New returns a *Config with default values.
func New() *Config {
	return &Config{
		Root: "./axon-data",
		Host: DefaultServerHost,
		Port: DefaultServerPort,
	}
}

// Config holds the settings needed to open and serve an Axon store.
type Config struct {
	// Root is the directory holding the store's bbolt files and spool
	// temp directory.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// Host is the host the HTTP front-end listens on.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	// Port is the port the HTTP front-end listens on.
	Port int64 `json:"port,omitempty" yaml:"port,omitempty"`

	// MaxBytes bounds the total size in bytes the store may hold, 0 means
	// unbounded.
	MaxBytes int64 `json:"max_bytes,omitempty" yaml:"max:bytes,omitempty"`
	// MaxCount bounds the total number of distinct digests the store may
	// hold, 0 means unbounded.
	MaxCount int64 `json:"max_count,omitempty" yaml:"max:count,omitempty"`

	// HTTPProxy is an optional proxy URL (http:// or socks5://) used by
	// the URL fetcher.
	HTTPProxy string `json:"http_proxy,omitempty" yaml:"http:proxy,omitempty"`
}

// Address returns the server address formatted as host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate catches a common misconfiguration: --host given as a full
// URL ("http://0.0.0.0") instead of a bare host, which would otherwise
// surface as a confusing bind error from net.Listen.
func (c *Config) Validate() error {
	host, scheme, err := parseHostScheme(c.Host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", c.Host, err)
	}
	if scheme != "" {
		return fmt.Errorf("host %q must not include a scheme, did you mean %q?", c.Host, host)
	}
	return nil
}

// parseHostScheme splits addr into host and scheme. A bare host/domain
// string yields an empty scheme; a non-empty scheme is what Validate
// rejects as a misconfiguration rather than silently stripping it.
func parseHostScheme(addr string) (host, scheme string, err error) {
	if strings.Contains(addr, "://") {
		u, err := stdurl.Parse(addr)
		if err != nil {
			return "", "", err
		}
		return u.Host, u.Scheme, nil
	}
	u, err := stdurl.Parse("https://" + addr)
	if err != nil {
		return "", "", err
	}
	return u.Host, "", nil
}

// Flags returns the []cli.Flag bound to the current config.
func (c *Config) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "root",
			Usage:       "path to the axon store data directory",
			Sources:     cli.EnvVars("AXON_ROOT"),
			Value:       c.Root,
			Destination: &c.Root,
			Category:    FlagCategory,
		},
		&cli.StringFlag{
			Name:        "host",
			Usage:       "host for the server to listen on",
			Sources:     cli.EnvVars("AXON_HOST"),
			Value:       c.Host,
			Destination: &c.Host,
			Category:    FlagCategory,
		},
		&cli.IntFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "port for the server to listen on",
			Sources:     cli.EnvVars("AXON_PORT"),
			Value:       c.Port,
			Destination: &c.Port,
			Category:    FlagCategory,
		},
		&cli.IntFlag{
			Name:        "max-bytes",
			Usage:       "maximum total bytes the store may hold, 0 for unbounded",
			Sources:     cli.EnvVars("AXON_MAX_BYTES"),
			Value:       c.MaxBytes,
			Destination: &c.MaxBytes,
			Category:    FlagCategory,
		},
		&cli.IntFlag{
			Name:        "max-count",
			Usage:       "maximum distinct digests the store may hold, 0 for unbounded",
			Sources:     cli.EnvVars("AXON_MAX_COUNT"),
			Value:       c.MaxCount,
			Destination: &c.MaxCount,
			Category:    FlagCategory,
		},
		&cli.StringFlag{
			Name:        "http-proxy",
			Usage:       "proxy URL used by the URL fetcher, http:// or socks5://",
			Sources:     cli.EnvVars("AXON_HTTP_PROXY"),
			Value:       c.HTTPProxy,
			Destination: &c.HTTPProxy,
			Category:    FlagCategory,
		},
	}
	return flags
}

// LoadFile merges settings from a YAML config file into c. Fields left
// zero in the file are left unchanged in c.
func (c *Config) LoadFile(path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
