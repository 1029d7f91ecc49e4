package service

import (
	"context"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
	"github.com/ovpn-manager/ovpn-manager/internal/database"
	"github.com/ovpn-manager/ovpn-manager/internal/database/models"
	"github.com/ovpn-manager/ovpn-manager/internal/ovpn"
	"github.com/ovpn-manager/ovpn-manager/internal/tlscrypt"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a test database with migrations
func setupTestDB(t *testing.T) (*database.Database, *config.Config) {
	dbPath := t.TempDir() + "/test.db"

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: dbPath,
			},
		},
		Crypto: config.CryptoConfig{
			KeyAlgorithm: "ecdsa",
			ECCurve:      "P384",
			Subject: config.SubjectConfig{
				Country:      "GB",
				State:        "England",
				Locality:     "London",
				Organization: "OVPN Manager",
			},
		},
		Tokens: config.TokensConfig{LifetimeHours: 24},
	}

	db, err := database.New(cfg)
	require.NoError(t, err, "Failed to create test database")

	err = db.Migrate()
	require.NoError(t, err, "Failed to run migrations")

	t.Cleanup(func() { db.Close() })
	return db, cfg
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func testCA(t *testing.T) *crypto.CertificateAuthority {
	t.Helper()
	ca, err := crypto.GenerateCA(&crypto.CARequest{
		Subject:      pkix.Name{CommonName: "Test VPN CA", Organization: []string{"OVPN Manager"}},
		Algorithm:    "ecdsa",
		ECCurve:      "P384",
		ValidityDays: 3650,
	})
	require.NoError(t, err)
	return ca
}

func testComposer() *ovpn.Composer {
	return ovpn.New([]ovpn.Template{
		{Priority: 999, Group: "default", FileName: "999.default.ovpn", Content: "default-template-for-{{.subject}}\n{{ optionset }}\n# cn={{.common_name}} optionset={{.optionset_name}}"},
		{Priority: 0, Group: "engineering", FileName: "000.engineering.ovpn", Content: "engineering-template-for-{{.subject}}"},
	}, ovpn.OptionSets{
		"default": "proto udp",
		"UseTCP":  "proto tcp",
	}, nil)
}

type issuanceFixture struct {
	db       *database.Database
	cfg      *config.Config
	key      []byte
	issuance *IssuanceService
	tokens   *TokenService
}

func newIssuanceFixture(t *testing.T, composer *ovpn.Composer, tunnelKeys *tlscrypt.Provider) *issuanceFixture {
	t.Helper()
	db, cfg := setupTestDB(t)
	key := testKey(t)
	if composer == nil {
		composer = testComposer()
	}
	if tunnelKeys == nil {
		tunnelKeys = tlscrypt.NewProvider(afero.NewMemMapFs(), "", "", nil, nil)
	}
	return &issuanceFixture{
		db:       db,
		cfg:      cfg,
		key:      key,
		issuance: NewIssuanceService(db, testCA(t), composer, tunnelKeys, cfg, key, nil),
		tokens:   NewTokenService(db, key, nil),
	}
}

// seedToken stores an active record whose payload is plaintext sealed for token
func seedToken(t *testing.T, db *database.Database, key []byte, token string, createdAt time.Time, plaintext string) {
	t.Helper()
	payload, err := crypto.EncryptPayload([]byte(plaintext), key, token)
	require.NoError(t, err)
	require.NoError(t, db.CreateDownloadToken(context.Background(), &models.DownloadToken{
		ID:            uuid.New().String(),
		Token:         token,
		Subject:       "auth|seed",
		CommonName:    "auth_seed-1760011200.000000",
		CertExpiry:    createdAt.Add(365 * 24 * time.Hour),
		OptionSetUsed: "default",
		Payload:       payload,
		Downloadable:  true,
		CreatedAt:     createdAt,
	}))
}

func countTokens(t *testing.T, db *database.Database) int {
	t.Helper()
	var n int
	require.NoError(t, db.DB().QueryRow("SELECT COUNT(*) FROM download_tokens").Scan(&n))
	return n
}
