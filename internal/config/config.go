// Package config provides configuration management for the OVPN manager.
// It handles loading configuration from YAML files, applying environment variable
// and command line overrides, and validating configuration values for the server,
// database, identity provider, certificate authority, tunnel keys, templates,
// download tokens, logging, and security settings.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	TLSCrypt  TLSCryptConfig  `yaml:"tlscrypt"`
	Templates TemplatesConfig `yaml:"templates"`
	Tokens    TokensConfig    `yaml:"tokens"`
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                  int           `yaml:"port"`
	Host                  string        `yaml:"host"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	TLSEnabled            bool          `yaml:"tls_enabled"`
	TLSCert               string        `yaml:"tls_cert"`
	TLSKey                string        `yaml:"tls_key"`
	MaxConcurrentIssuance int           `yaml:"max_concurrent_issuance"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// OIDCConfig holds the identity provider registration
type OIDCConfig struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	AdminGroup   string   `yaml:"admin_group"`
}

// CryptoConfig holds CA material, the payload encryption key and device certificate defaults
type CryptoConfig struct {
	CACertPath    string        `yaml:"ca_cert_path"`
	CAKeyPath     string        `yaml:"ca_key_path"`
	CAKeyPassword string        `yaml:"ca_key_password"`
	EncryptionKey string        `yaml:"encryption_key"`
	KeyAlgorithm  string        `yaml:"key_algorithm"`
	RSABits       int           `yaml:"rsa_bits"`
	ECCurve       string        `yaml:"ec_curve"`
	Subject       SubjectConfig `yaml:"subject"`
}

// SubjectConfig holds the fixed subject fields of issued device certificates
type SubjectConfig struct {
	Country      string `yaml:"country"`
	State        string `yaml:"state"`
	Locality     string `yaml:"locality"`
	Organization string `yaml:"organization"`
}

// TLSCryptConfig holds the optional tunnel-authentication key settings
type TLSCryptConfig struct {
	KeyPath       string `yaml:"key_path"`
	OpenVPNBinary string `yaml:"openvpn_binary"`
}

// TemplatesConfig holds the locations of template and option set fragments
type TemplatesConfig struct {
	Path           string `yaml:"path"`
	OptionSetsPath string `yaml:"optionsets_path"`
}

// TokensConfig holds download token retention settings
type TokensConfig struct {
	LifetimeHours int `yaml:"lifetime_hours"`
}

// JWTConfig holds the settings for task bearer tokens
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Expiration time.Duration `yaml:"expiration"`
	Issuer     string        `yaml:"issuer"`
}

// SessionConfig holds login session configuration
type SessionConfig struct {
	Lifetime     time.Duration `yaml:"lifetime"`
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSEnabled bool     `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// defaultConfig returns a configuration populated with built-in defaults
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  8000,
			Host:                  "0.0.0.0",
			ReadTimeout:           30 * time.Second,
			WriteTimeout:          30 * time.Second,
			MaxConcurrentIssuance: 4,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/ovpn-manager.db",
			},
			Postgres: PostgresConfig{
				Port:         5432,
				SSLMode:      "require",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		OIDC: OIDCConfig{
			Scopes: []string{"openid", "email", "profile", "groups"},
		},
		Crypto: CryptoConfig{
			KeyAlgorithm: "rsa",
			RSABits:      4096,
			ECCurve:      "P384",
			Subject: SubjectConfig{
				Country:      "GB",
				State:        "England",
				Locality:     "London",
				Organization: "OVPN Manager",
			},
		},
		TLSCrypt: TLSCryptConfig{
			OpenVPNBinary: "openvpn",
		},
		Templates: TemplatesConfig{
			Path:           "./templates/ovpn",
			OptionSetsPath: "./templates/optionsets",
		},
		Tokens: TokensConfig{
			LifetimeHours: 24,
		},
		JWT: JWTConfig{
			Expiration: 24 * time.Hour,
			Issuer:     "ovpn-manager",
		},
		Session: SessionConfig{
			Lifetime:     30 * time.Minute,
			CookieName:   "ovpn_manager_session",
			CookieSecure: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			CORSEnabled: false,
		},
	}
}

// Load reads the configuration file over the defaults, then applies environment
// variable and command line overrides. A missing file is not an error.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if flags != nil {
		if err := flags.apply(cfg); err != nil {
			return nil, fmt.Errorf("invalid command line flag: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Environment variables recognised by applyEnvOverrides
const (
	EnvServerPort          = "OVPN_SERVER_PORT"
	EnvServerHost          = "OVPN_SERVER_HOST"
	EnvDBType              = "OVPN_DB_TYPE"
	EnvDBSQLitePath        = "OVPN_DB_SQLITE_PATH"
	EnvDBPostgresHost      = "OVPN_DB_POSTGRES_HOST"
	EnvDBPostgresPort      = "OVPN_DB_POSTGRES_PORT"
	EnvDBPostgresDatabase  = "OVPN_DB_POSTGRES_DATABASE"
	EnvDBPostgresUser      = "OVPN_DB_POSTGRES_USER"
	EnvDBPostgresPassword  = "OVPN_DB_POSTGRES_PASSWORD"
	EnvOIDCIssuerURL       = "OVPN_OIDC_ISSUER_URL"
	EnvOIDCClientID        = "OVPN_OIDC_CLIENT_ID"
	EnvOIDCClientSecret    = "OVPN_OIDC_CLIENT_SECRET"
	EnvOIDCRedirectURL     = "OVPN_OIDC_REDIRECT_URL"
	EnvOIDCAdminGroup      = "OVPN_OIDC_ADMIN_GROUP"
	EnvCACertPath          = "OVPN_CA_CERT_PATH"
	EnvCAKeyPath           = "OVPN_CA_KEY_PATH"
	EnvCAKeyPassword       = "OVPN_CA_KEY_PASSWORD"
	EnvEncryptionKey       = "OVPN_ENCRYPTION_KEY"
	EnvX509Country         = "OVPN_X509_C"
	EnvX509State           = "OVPN_X509_ST"
	EnvX509Locality        = "OVPN_X509_L"
	EnvX509Organization    = "OVPN_X509_O"
	EnvTLSCryptKeyPath     = "OVPN_TLSCRYPT_KEY_PATH"
	EnvTemplatesPath       = "OVPN_TEMPLATES_PATH"
	EnvOptionSetsPath      = "OVPN_OPTIONSETS_PATH"
	EnvTokenLifetimeHours  = "OVPN_TOKEN_LIFETIME_HOURS"
	EnvJWTSecret           = "OVPN_JWT_SECRET"
	EnvLogLevel            = "OVPN_LOG_LEVEL"
)

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	// Server overrides
	if port := os.Getenv(EnvServerPort); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv(EnvServerHost); host != "" {
		c.Server.Host = host
	}

	// Database overrides
	if dbType := os.Getenv(EnvDBType); dbType != "" {
		c.Database.Type = dbType
	}
	if dbPath := os.Getenv(EnvDBSQLitePath); dbPath != "" {
		c.Database.SQLite.Path = dbPath
	}
	if pgHost := os.Getenv(EnvDBPostgresHost); pgHost != "" {
		c.Database.Postgres.Host = pgHost
	}
	if pgPort := os.Getenv(EnvDBPostgresPort); pgPort != "" {
		if p, err := strconv.Atoi(pgPort); err == nil {
			c.Database.Postgres.Port = p
		}
	}
	if pgDB := os.Getenv(EnvDBPostgresDatabase); pgDB != "" {
		c.Database.Postgres.Database = pgDB
	}
	if pgUser := os.Getenv(EnvDBPostgresUser); pgUser != "" {
		c.Database.Postgres.User = pgUser
	}
	if pgPass := os.Getenv(EnvDBPostgresPassword); pgPass != "" {
		c.Database.Postgres.Password = pgPass
	}

	// Identity provider overrides
	if issuer := os.Getenv(EnvOIDCIssuerURL); issuer != "" {
		c.OIDC.IssuerURL = issuer
	}
	if clientID := os.Getenv(EnvOIDCClientID); clientID != "" {
		c.OIDC.ClientID = clientID
	}
	if clientSecret := os.Getenv(EnvOIDCClientSecret); clientSecret != "" {
		c.OIDC.ClientSecret = clientSecret
	}
	if redirectURL := os.Getenv(EnvOIDCRedirectURL); redirectURL != "" {
		c.OIDC.RedirectURL = redirectURL
	}
	if adminGroup := os.Getenv(EnvOIDCAdminGroup); adminGroup != "" {
		c.OIDC.AdminGroup = adminGroup
	}

	// Crypto overrides
	if certPath := os.Getenv(EnvCACertPath); certPath != "" {
		c.Crypto.CACertPath = certPath
	}
	if keyPath := os.Getenv(EnvCAKeyPath); keyPath != "" {
		c.Crypto.CAKeyPath = keyPath
	}
	if keyPassword := os.Getenv(EnvCAKeyPassword); keyPassword != "" {
		c.Crypto.CAKeyPassword = keyPassword
	}
	if encryptionKey := os.Getenv(EnvEncryptionKey); encryptionKey != "" {
		c.Crypto.EncryptionKey = encryptionKey
	}
	if country := os.Getenv(EnvX509Country); country != "" {
		c.Crypto.Subject.Country = country
	}
	if state := os.Getenv(EnvX509State); state != "" {
		c.Crypto.Subject.State = state
	}
	if locality := os.Getenv(EnvX509Locality); locality != "" {
		c.Crypto.Subject.Locality = locality
	}
	if org := os.Getenv(EnvX509Organization); org != "" {
		c.Crypto.Subject.Organization = org
	}

	// Tunnel key and template overrides
	if tlsKey := os.Getenv(EnvTLSCryptKeyPath); tlsKey != "" {
		c.TLSCrypt.KeyPath = tlsKey
	}
	if templates := os.Getenv(EnvTemplatesPath); templates != "" {
		c.Templates.Path = templates
	}
	if optionSets := os.Getenv(EnvOptionSetsPath); optionSets != "" {
		c.Templates.OptionSetsPath = optionSets
	}

	// Token overrides
	if lifetime := os.Getenv(EnvTokenLifetimeHours); lifetime != "" {
		if h, err := strconv.Atoi(lifetime); err == nil {
			c.Tokens.LifetimeHours = h
		}
	}

	// JWT overrides
	if jwtSecret := os.Getenv(EnvJWTSecret); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	// Logging overrides
	if logLevel := os.Getenv(EnvLogLevel); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key not specified")
		}
	}
	if c.Server.MaxConcurrentIssuance < 1 {
		return fmt.Errorf("max concurrent issuance must be at least 1")
	}

	// Validate database config
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database type: %s (must be 'sqlite' or 'postgres')", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("SQLite path not specified")
	}
	if c.Database.Type == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("PostgreSQL host and database must be specified")
		}
	}

	// Validate crypto config
	if c.Crypto.KeyAlgorithm != "rsa" && c.Crypto.KeyAlgorithm != "ecdsa" {
		return fmt.Errorf("invalid key algorithm: %s", c.Crypto.KeyAlgorithm)
	}
	if c.Crypto.KeyAlgorithm == "rsa" && c.Crypto.RSABits < 4096 {
		return fmt.Errorf("RSA key size must be at least 4096 bits")
	}
	if c.Crypto.KeyAlgorithm == "ecdsa" && c.Crypto.ECCurve != "P384" && c.Crypto.ECCurve != "P521" {
		return fmt.Errorf("invalid EC curve: %s (must be P384 or P521)", c.Crypto.ECCurve)
	}
	if c.Crypto.EncryptionKey != "" {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			return err
		}
	}

	// Validate token config
	if c.Tokens.LifetimeHours < 1 {
		return fmt.Errorf("token lifetime must be at least 1 hour")
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// ValidateStartupMaterial checks the settings that must be present before the
// server can issue configurations. It is separate from Validate so that tooling
// which only needs part of the configuration can still load it.
func (c *Config) ValidateStartupMaterial() error {
	var missing []string
	if c.Crypto.CACertPath == "" {
		missing = append(missing, "crypto.ca_cert_path")
	}
	if c.Crypto.CAKeyPath == "" {
		missing = append(missing, "crypto.ca_key_path")
	}
	if c.Crypto.EncryptionKey == "" {
		missing = append(missing, "crypto.encryption_key")
	}
	if c.OIDC.IssuerURL == "" {
		missing = append(missing, "oidc.issuer_url")
	}
	if c.OIDC.ClientID == "" {
		missing = append(missing, "oidc.client_id")
	}
	if c.OIDC.RedirectURL == "" {
		missing = append(missing, "oidc.redirect_url")
	}
	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EncryptionKeyBytes decodes the payload encryption key. The key is a
// base64 (standard or URL alphabet) encoding of exactly 32 bytes.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	raw := strings.TrimSpace(c.Crypto.EncryptionKey)
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GetDSN returns the database connection string based on the configured type
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}
