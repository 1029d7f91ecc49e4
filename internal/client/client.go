package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ovpn-manager/ovpn-manager/internal/runner"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultTimeout is how long to wait for the browser login
const DefaultTimeout = 2 * time.Minute

// ErrOutputExists means the output file exists and overwriting was not requested
var ErrOutputExists = errors.New("output file already exists; use --force to overwrite")

// Client fetches a configuration through the browser login flow
type Client struct {
	cfg     *Config
	fs      afero.Fs
	runner  runner.Runner
	http    *retryablehttp.Client
	out     io.Writer
	logger  *zap.Logger
	timeout time.Duration

	// OpenBrowser opens url; it defaults to the platform opener
	OpenBrowser func(ctx context.Context, url string) error
}

// New creates a new Client. r runs the platform browser opener.
func New(cfg *Config, fs afero.Fs, r runner.Runner, out io.Writer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		fs:      fs,
		runner:  r,
		http:    newHTTPClient(logger),
		out:     out,
		logger:  logger,
		timeout: DefaultTimeout,
	}
	c.OpenBrowser = c.openWithRunner
	return c
}

// SetTimeout changes how long Run waits for the login to complete
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Run performs the whole flow and writes the configuration to the output path
func (c *Client) Run(ctx context.Context) error {
	if exists, err := afero.Exists(c.fs, c.cfg.Output); err != nil {
		return fmt.Errorf("failed to check output path: %w", err)
	} else if exists && !c.cfg.Overwrite {
		return fmt.Errorf("%w: %s", ErrOutputExists, c.cfg.Output)
	}

	callback, err := NewCallbackServer(c.logger)
	if err != nil {
		return fmt.Errorf("could not start the local callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = callback.Close(shutdownCtx)
	}()

	fmt.Fprintf(c.out, "Starting temporary server on http://localhost:%d...\n", callback.Port())

	loginURL := fmt.Sprintf("%s/login?cli_port=%d", c.cfg.ServerURL, callback.Port())
	if err := c.OpenBrowser(ctx, loginURL); err != nil {
		c.logger.Warn("Could not open the browser", zap.Error(err))
		fmt.Fprintf(c.out, "Open this URL in your browser to continue:\n  %s\n", loginURL)
	} else {
		fmt.Fprintln(c.out, "Your browser has been opened to complete authentication.")
	}

	fmt.Fprintf(c.out, "Waiting for authentication in browser... (will time out in %s)\n", c.timeout)
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	token, err := callback.Wait(waitCtx)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("authentication timed out")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Authentication successful. Token received.")

	fmt.Fprintf(c.out, "Downloading configuration from %s...\n", c.cfg.ServerURL)
	document, err := download(ctx, c.http, c.cfg.ServerURL, token)
	if err != nil {
		return err
	}

	if err := c.fs.MkdirAll(filepath.Dir(c.cfg.Output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := afero.WriteFile(c.fs, c.cfg.Output, document, 0600); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", c.cfg.Output, err)
	}

	fmt.Fprintf(c.out, "Successfully saved configuration to %s\n", c.cfg.Output)
	return nil
}

// openWithRunner starts the platform's URL opener
func (c *Client) openWithRunner(ctx context.Context, url string) error {
	if c.runner == nil {
		return errors.New("no command runner")
	}
	_, err := c.runner.Run(ctx, browserCommand(runtime.GOOS, url), runner.Options{RaiseOnError: true})
	return err
}

func browserCommand(goos, url string) []string {
	switch goos {
	case "darwin":
		return []string{"open", url}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler", url}
	default:
		return []string{"xdg-open", url}
	}
}

// errorMessage extracts the "error" field of a JSON error body
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
