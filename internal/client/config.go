// Package client implements the command-line side of the login flow: it
// resolves its settings, opens the browser at the server's login page, waits
// for the token on a loopback callback and downloads the configuration once.
package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSystemConfigPath is the machine-wide client configuration file
	DefaultSystemConfigPath = "/etc/ovpn-manager/config.yaml"

	envServerURL = "OVPN_MANAGER_URL"
	envOutput    = "OVPN_MANAGER_OUTPUT"
	envOverwrite = "OVPN_MANAGER_OVERWRITE"
)

// ErrNoServerURL means no source provided the server address
var ErrNoServerURL = errors.New("server URL is not configured; use --server-url, " + envServerURL + " or a config file")

// Config is the resolved client configuration
type Config struct {
	ServerURL string
	Output    string
	Overwrite bool
}

// fileConfig is the layout of the user and system config files
type fileConfig struct {
	Server    string `yaml:"server"`
	Output    string `yaml:"output"`
	Overwrite *bool  `yaml:"overwrite"`
}

// Options are the explicit inputs to ResolveConfig. Empty strings mean "not given".
type Options struct {
	ServerURL string
	Output    string
	Overwrite bool

	UserConfigPath   string
	SystemConfigPath string
	Getenv           func(string) string
}

// DefaultUserConfigPath returns ~/.config/ovpn-manager/config.yaml
func DefaultUserConfigPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ovpn-manager", "config.yaml")
}

// ResolveConfig merges settings with precedence flags, environment, user file,
// system file, then defaults. Unreadable config files are skipped with a warning.
func ResolveConfig(fs afero.Fs, opts Options, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	user := loadFileConfig(fs, opts.UserConfigPath, logger)
	system := loadFileConfig(fs, opts.SystemConfigPath, logger)

	cfg := &Config{}

	cfg.ServerURL = strings.TrimRight(firstNonEmpty(opts.ServerURL, getenv(envServerURL), user.Server, system.Server), "/")
	if cfg.ServerURL == "" {
		return nil, ErrNoServerURL
	}

	output := firstNonEmpty(opts.Output, getenv(envOutput), user.Output, system.Output)
	if output == "" {
		output = defaultOutputPath()
	}
	expanded, err := homedir.Expand(output)
	if err != nil {
		return nil, fmt.Errorf("failed to expand output path %q: %w", output, err)
	}
	cfg.Output = os.ExpandEnv(expanded)

	switch {
	case opts.Overwrite:
		cfg.Overwrite = true
	case getenv(envOverwrite) != "":
		cfg.Overwrite = parseBool(getenv(envOverwrite))
	case user.Overwrite != nil:
		cfg.Overwrite = *user.Overwrite
	case system.Overwrite != nil:
		cfg.Overwrite = *system.Overwrite
	}

	return cfg, nil
}

func loadFileConfig(fs afero.Fs, path string, logger *zap.Logger) fileConfig {
	var fc fileConfig
	if path == "" {
		return fc
	}

	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return fc
	}
	if err != nil {
		logger.Warn("Could not read config file", zap.String("path", path), zap.Error(err))
		return fc
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		logger.Warn("Could not parse config file", zap.String("path", path), zap.Error(err))
		return fileConfig{}
	}
	return fc
}

// defaultOutputPath is config.ovpn in the Downloads folder, or in the home
// directory when there is none
func defaultOutputPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return "config.ovpn"
	}
	downloads := filepath.Join(home, "Downloads")
	if info, err := os.Stat(downloads); err == nil && info.IsDir() {
		return filepath.Join(downloads, "config.ovpn")
	}
	return filepath.Join(home, "config.ovpn")
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "t", "y", "yes":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
