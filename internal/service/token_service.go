package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
	"github.com/ovpn-manager/ovpn-manager/internal/database"
	"github.com/ovpn-manager/ovpn-manager/internal/database/models"
	"github.com/ovpn-manager/ovpn-manager/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DownloadWindow is how long after creation a token can be redeemed
	DownloadWindow = 5 * time.Minute

	// StatusListLimit caps the admin listing
	StatusListLimit = 500

	// expiringWithin is the certificate expiry horizon of the "expiring" filter
	expiringWithin = 30 * 24 * time.Hour
)

var statusTimeLimits = map[string]time.Duration{
	"1h":  time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1m":  30 * 24 * time.Hour,
	"6m":  180 * 24 * time.Hour,
}

// TokenService handles the download token lifecycle
type TokenService struct {
	db     *database.Database
	key    []byte
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenService creates a new token service. key is the 32-byte payload encryption key.
func NewTokenService(db *database.Database, key []byte, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		db:     db,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
}

// Retrieve redeems a token exactly once and returns the decrypted configuration.
// Every rejection wraps ErrForbidden; a payload that fails authentication returns
// crypto.ErrDecryption and leaves the record untouched.
func (s *TokenService) Retrieve(ctx context.Context, token string) ([]byte, *models.DownloadToken, error) {
	if token == "" {
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalNotFound).Inc()
		return nil, nil, ErrTokenNotFound
	}

	cutoff := s.now().UTC().Add(-DownloadWindow)

	var plaintext []byte
	record, err := s.db.ClaimDownloadToken(ctx, token, cutoff, func(r *models.DownloadToken) error {
		var derr error
		plaintext, derr = crypto.DecryptPayload(r.Payload, s.key, token)
		return derr
	})
	switch {
	case err == nil:
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalSuccess).Inc()
		s.logger.Info("Download token collected",
			zap.String("subject", record.Subject),
			zap.String("common_name", record.CommonName),
		)
		return plaintext, record, nil
	case errors.Is(err, crypto.ErrDecryption):
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalDecryptError).Inc()
		s.logger.Error("Failed to decrypt stored configuration", zap.Error(err))
		return nil, nil, err
	case !errors.Is(err, sql.ErrNoRows):
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalError).Inc()
		return nil, nil, fmt.Errorf("failed to claim download token: %w", err)
	}

	expired, err := s.db.ExpireDownloadToken(ctx, token, cutoff)
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalError).Inc()
		return nil, nil, fmt.Errorf("failed to expire download token: %w", err)
	}
	if expired {
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalExpired).Inc()
		s.logger.Info("Download token expired", zap.Time("cutoff", cutoff))
		return nil, nil, ErrTokenExpired
	}

	existing, err := s.db.GetDownloadToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalNotFound).Inc()
		return nil, nil, ErrTokenNotFound
	}
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalError).Inc()
		return nil, nil, fmt.Errorf("failed to get download token: %w", err)
	}

	switch {
	case existing.Collected:
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalCollected).Inc()
		return nil, existing, ErrTokenCollected
	case existing.IsDownloadWindowExpired(s.now().UTC(), DownloadWindow):
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalExpired).Inc()
		return nil, existing, ErrTokenExpired
	default:
		metrics.RetrievalsTotal.WithLabelValues(metrics.RetrievalNotDownloadable).Inc()
		return nil, existing, ErrTokenNotDownloadable
	}
}

// Cleanup deletes every record older than maxAgeHours, whatever its state
func (s *TokenService) Cleanup(ctx context.Context, maxAgeHours int) (int64, error) {
	if maxAgeHours < 0 {
		return 0, fmt.Errorf("invalid token lifetime: %d hours", maxAgeHours)
	}

	threshold := s.now().UTC().Add(-time.Duration(maxAgeHours) * time.Hour)
	deleted, err := s.db.DeleteDownloadTokensBefore(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete download tokens: %w", err)
	}

	metrics.TokensDeletedTotal.Add(float64(deleted))
	s.logger.Info("Cleaned up download tokens",
		zap.Int64("deleted", deleted),
		zap.Int("max_age_hours", maxAgeHours),
	)
	return deleted, nil
}

// StatusFilter selects records for the admin listing
type StatusFilter struct {
	// FilterBy is "all_records" (default), "downloadable" or "collected"
	FilterBy string `form:"filter_by" json:"filter_by"`
	// TimeLimit is one of 1h, 12h, 1d (default), 1w, 1m, 6m or expiring
	TimeLimit string `form:"time_limit" json:"time_limit"`
}

// Normalize fills in defaults
func (f StatusFilter) Normalize() StatusFilter {
	if f.FilterBy == "" {
		f.FilterBy = "all_records"
	}
	if f.TimeLimit == "" {
		f.TimeLimit = "1d"
	}
	return f
}

// List returns up to StatusListLimit records matching filter, newest first.
// Unknown filter values apply no restriction.
func (s *TokenService) List(ctx context.Context, filter StatusFilter) ([]*models.DownloadToken, error) {
	filter = filter.Normalize()
	now := s.now().UTC()

	q := database.TokenFilter{Limit: StatusListLimit}
	switch filter.FilterBy {
	case "downloadable", "collected":
		q.State = filter.FilterBy
	}

	if d, ok := statusTimeLimits[filter.TimeLimit]; ok {
		q.CreatedAfter = now.Add(-d)
	} else if filter.TimeLimit == "expiring" {
		q.CertExpiryFrom = now
		q.CertExpiryTo = now.Add(expiringWithin)
	}

	tokens, err := s.db.ListDownloadTokens(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list download tokens: %w", err)
	}
	if tokens == nil {
		tokens = []*models.DownloadToken{}
	}
	return tokens, nil
}
