// Package tlscrypt provides the optional OpenVPN tunnel-authentication key that is
// embedded in client configurations. A tls-crypt (V1) key is shared verbatim; a
// tls-crypt-v2 server key is used to derive a client specific key with openvpn.
package tlscrypt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
	"github.com/ovpn-manager/ovpn-manager/internal/runner"
)

const (
	// HeaderV1 starts a tls-crypt static key
	HeaderV1 = "-----BEGIN OpenVPN Static key V1-----"
	// HeaderV2 starts a tls-crypt-v2 server key
	HeaderV2 = "-----BEGIN OpenVPN tls-crypt-v2 server key-----"
)

// Key versions returned by GetTunnelKey
const (
	VersionNone = 0
	Version1    = 1
	Version2    = 2
)

var (
	// ErrKeyFileMissing means a key path is configured but the file does not exist
	ErrKeyFileMissing = errors.New("tls-crypt key file is missing")
	// ErrInvalidKeyFormat means the key file has neither recognised header
	ErrInvalidKeyFormat = errors.New("tls-crypt key file has an unrecognised format")
	// ErrDerivationFailed means the client key could not be derived from a V2 server key
	ErrDerivationFailed = errors.New("tls-crypt-v2 client key derivation failed")
)

// Provider returns the tunnel key for a device
type Provider struct {
	fs      afero.Fs
	keyPath string
	binary  string
	runner  runner.Runner
	logger  *zap.Logger
}

// NewProvider creates a new Provider. An empty keyPath disables the feature.
func NewProvider(fs afero.Fs, keyPath, openvpnBinary string, r runner.Runner, logger *zap.Logger) *Provider {
	if openvpnBinary == "" {
		openvpnBinary = "openvpn"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		fs:      fs,
		keyPath: keyPath,
		binary:  openvpnBinary,
		runner:  r,
		logger:  logger,
	}
}

// Enabled reports whether a key path is configured
func (p *Provider) Enabled() bool {
	return p.keyPath != ""
}

// GetTunnelKey returns the key version and material for the given device
// certificate. When no key is configured it returns VersionNone and no error.
func (p *Provider) GetTunnelKey(ctx context.Context, deviceCertPEM string) (int, string, error) {
	if !p.Enabled() {
		return VersionNone, "", nil
	}

	content, err := afero.ReadFile(p.fs, p.keyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VersionNone, "", fmt.Errorf("%w: %s", ErrKeyFileMissing, p.keyPath)
		}
		return VersionNone, "", fmt.Errorf("failed to read tls-crypt key: %w", err)
	}

	text := string(content)
	switch {
	case strings.HasPrefix(text, HeaderV1):
		p.logger.Debug("Using tls-crypt V1 key", zap.String("path", p.keyPath))
		return Version1, text, nil
	case strings.HasPrefix(text, HeaderV2):
		key, err := p.deriveClientKey(ctx, deviceCertPEM)
		if err != nil {
			return VersionNone, "", err
		}
		return Version2, key, nil
	default:
		return VersionNone, "", fmt.Errorf("%w: %s", ErrInvalidKeyFormat, p.keyPath)
	}
}

// deriveClientKey runs
// openvpn --tls-crypt-v2 <server key> --genkey tls-crypt-v2-client <out> [metadata]
// inside a scoped temporary directory.
func (p *Provider) deriveClientKey(ctx context.Context, deviceCertPEM string) (string, error) {
	dir, err := afero.TempDir(p.fs, "", "tlscrypt-v2-")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp dir: %v", ErrDerivationFailed, err)
	}
	defer func() {
		if err := p.fs.RemoveAll(dir); err != nil {
			p.logger.Warn("Failed to remove temp dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	outPath := filepath.Join(dir, "client.key")
	argv := []string{p.binary, "--tls-crypt-v2", p.keyPath, "--genkey", "tls-crypt-v2-client", outPath}
	if metadata, err := crypto.Fingerprint(deviceCertPEM); err == nil {
		argv = append(argv, metadata)
	} else {
		p.logger.Debug("Deriving tls-crypt-v2 key without metadata", zap.Error(err))
	}

	if _, err := p.runner.Run(ctx, argv, runner.Options{RaiseOnError: true}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}

	out, err := afero.ReadFile(p.fs, outPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read derived key: %v", ErrDerivationFailed, err)
	}

	key := strings.TrimSpace(string(out))
	if key == "" {
		return "", fmt.Errorf("%w: derived key is empty", ErrDerivationFailed)
	}
	return key, nil
}
