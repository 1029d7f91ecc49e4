package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"github.com/google/uuid"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
	"github.com/ovpn-manager/ovpn-manager/internal/database"
	"github.com/ovpn-manager/ovpn-manager/internal/database/models"
	"github.com/ovpn-manager/ovpn-manager/internal/metrics"
	"github.com/ovpn-manager/ovpn-manager/internal/ovpn"
	"github.com/ovpn-manager/ovpn-manager/internal/tlscrypt"
	"go.uber.org/zap"
)

// tokenBytes is the amount of randomness in a download token
const tokenBytes = 32

// RequestMetadata is diagnostic information about the requesting client
type RequestMetadata struct {
	IP        string
	UserAgent string
}

// IssuanceService turns a verified identity into a stored, encrypted client
// configuration reachable only through a one-time token
type IssuanceService struct {
	db         *database.Database
	ca         *crypto.CertificateAuthority
	composer   *ovpn.Composer
	tunnelKeys *tlscrypt.Provider
	cfg        *config.Config
	key        []byte
	logger     *zap.Logger
	now        func() time.Time
}

// NewIssuanceService creates a new issuance service
func NewIssuanceService(
	db *database.Database,
	ca *crypto.CertificateAuthority,
	composer *ovpn.Composer,
	tunnelKeys *tlscrypt.Provider,
	cfg *config.Config,
	key []byte,
	logger *zap.Logger,
) *IssuanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IssuanceService{
		db:         db,
		ca:         ca,
		composer:   composer,
		tunnelKeys: tunnelKeys,
		cfg:        cfg,
		key:        key,
		logger:     logger,
		now:        time.Now,
	}
}

// Issue signs a device certificate for identity, renders a configuration with the
// requested option set and stores it encrypted. It returns the download token.
// No record is written unless every step succeeds.
func (s *IssuanceService) Issue(ctx context.Context, identity *auth.Identity, optionSet string, meta RequestMetadata) (token string, err error) {
	start := time.Now()
	metrics.IssuancesInFlight.Inc()
	defer func() {
		metrics.IssuancesInFlight.Dec()
		metrics.IssuanceDuration.Observe(time.Since(start).Seconds())
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.IssuancesTotal.WithLabelValues(result).Inc()
	}()

	if identity == nil || identity.Subject == "" {
		return "", ErrIdentity
	}

	now := s.now().UTC()

	device, err := crypto.IssueDeviceCertificate(&crypto.DeviceCertificateRequest{
		SubjectLabel: identity.Label(),
		Subject: crypto.SubjectFields{
			Country:      s.cfg.Crypto.Subject.Country,
			State:        s.cfg.Crypto.Subject.State,
			Locality:     s.cfg.Crypto.Subject.Locality,
			Organization: s.cfg.Crypto.Subject.Organization,
		},
		Algorithm: s.cfg.Crypto.KeyAlgorithm,
		RSABits:   s.cfg.Crypto.RSABits,
		ECCurve:   s.cfg.Crypto.ECCurve,
		Now:       now,
	}, s.ca)
	if err != nil {
		return "", fmt.Errorf("failed to issue device certificate: %w", err)
	}

	tlsVersion, tlsKey, err := s.tunnelKeys.GetTunnelKey(ctx, device.CertificatePEM)
	if err != nil {
		return "", fmt.Errorf("failed to get tunnel key: %w", err)
	}

	bundle, err := crypto.ExportInlinePKCS12(device, s.ca)
	if err != nil {
		return "", fmt.Errorf("failed to export PKCS#12 bundle: %w", err)
	}

	if optionSet == "" {
		optionSet = ovpn.DefaultOptionSet
	}

	renderCtx := ovpn.RenderContext{
		"subject":          identity.Subject,
		"userinfo":         identity.Claims,
		"groups":           identity.Groups,
		"email":            identity.Email,
		"name":             identity.Name,
		"device_key_pem":   device.PrivateKeyPEM,
		"device_cert_pem":  device.CertificatePEM,
		"device_pkcs12":    bundle,
		"ca_cert_pem":      s.ca.CertificatePEM,
		"common_name":      device.CommonName,
		"tlscrypt_key":     tlsKey,
		"tlscrypt_version": tlsVersion,
		"optionset_name":   optionSet,
	}

	document, optionSetUsed, err := s.composer.Render(identity.Groups, renderCtx)
	if err != nil {
		return "", fmt.Errorf("failed to render configuration: %w", err)
	}

	token, err = generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate download token: %w", err)
	}

	payload, err := crypto.EncryptPayload([]byte(document), s.key, token)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt configuration: %w", err)
	}

	record := &models.DownloadToken{
		ID:                 uuid.New().String(),
		Token:              token,
		Subject:            identity.Subject,
		CommonName:         device.CommonName,
		RequesterIP:        meta.IP,
		RequesterUserAgent: meta.UserAgent,
		CertExpiry:         device.NotAfter.UTC(),
		DetectedOS:         DetectOS(meta.UserAgent),
		OptionSetUsed:      optionSetUsed,
		Payload:            payload,
		Downloadable:       true,
		Collected:          false,
		CreatedAt:          now,
	}
	if err := s.db.CreateDownloadToken(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store download token: %w", err)
	}

	s.logger.Info("Issued client configuration",
		zap.String("subject", identity.Subject),
		zap.String("common_name", device.CommonName),
		zap.String("optionset", optionSetUsed),
		zap.Int("tlscrypt_version", tlsVersion),
		zap.String("detected_os", record.DetectedOS),
	)

	return token, nil
}

// DetectOS returns the operating system family named by a User-Agent header
func DetectOS(userAgent string) string {
	ua := uasurfer.Parse(userAgent)
	return strings.TrimPrefix(ua.OS.Name.String(), "OS")
}

// generateToken returns 256 random bits as unpadded base64url text
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
