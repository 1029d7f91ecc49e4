package config

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

// Flags holds all command line flag values
type Flags struct {
	fs *flag.FlagSet

	// General
	configFile *string
	version    *bool

	// Server
	serverPort         *int
	serverHost         *string
	serverReadTimeout  *string
	serverWriteTimeout *string
	serverTLSEnabled   *bool
	serverTLSCert      *string
	serverTLSKey       *string

	// Database
	dbType             *string
	dbSQLitePath       *string
	dbPostgresHost     *string
	dbPostgresPort     *int
	dbPostgresDatabase *string
	dbPostgresUser     *string
	dbPostgresPassword *string
	dbPostgresSSLMode  *string

	// OIDC
	oidcIssuerURL   *string
	oidcClientID    *string
	oidcRedirectURL *string
	oidcAdminGroup  *string

	// Crypto
	cryptoCACertPath   *string
	cryptoCAKeyPath    *string
	cryptoKeyAlgorithm *string

	// Tunnel keys and templates
	tlscryptKeyPath    *string
	templatesPath      *string
	optionSetsPath     *string
	tokenLifetimeHours *int

	// Logging
	logLevel  *string
	logFormat *string

	// Security
	securityCORSEnabled *bool
	securityCORSOrigins *[]string

	// Tooling
	generateDevCA         *string
	generateEncryptionKey *bool
	issueTaskToken        *string
}

// NewFlags defines all command line flags on the given flag set
func NewFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}

	// General flags
	f.configFile = fs.StringP("config", "c", "config.yaml", "Path to configuration file")
	f.version = fs.BoolP("version", "v", false, "Print version and exit")

	// Server flags
	f.serverPort = fs.Int("server.port", 0, "HTTP server port")
	f.serverHost = fs.String("server.host", "", "HTTP server bind address")
	f.serverReadTimeout = fs.String("server.read-timeout", "", "Server read timeout (e.g., 30s)")
	f.serverWriteTimeout = fs.String("server.write-timeout", "", "Server write timeout (e.g., 30s)")
	f.serverTLSEnabled = fs.Bool("server.tls-enabled", false, "Enable HTTPS")
	f.serverTLSCert = fs.String("server.tls-cert", "", "Path to TLS certificate")
	f.serverTLSKey = fs.String("server.tls-key", "", "Path to TLS key")

	// Database flags
	f.dbType = fs.String("db.type", "", "Database type (sqlite or postgres)")
	f.dbSQLitePath = fs.String("db.sqlite.path", "", "SQLite database file path")
	f.dbPostgresHost = fs.String("db.postgres.host", "", "PostgreSQL host")
	f.dbPostgresPort = fs.Int("db.postgres.port", 0, "PostgreSQL port")
	f.dbPostgresDatabase = fs.String("db.postgres.database", "", "PostgreSQL database name")
	f.dbPostgresUser = fs.String("db.postgres.user", "", "PostgreSQL user")
	f.dbPostgresPassword = fs.String("db.postgres.password", "", "PostgreSQL password")
	f.dbPostgresSSLMode = fs.String("db.postgres.ssl-mode", "", "PostgreSQL SSL mode")

	// OIDC flags
	f.oidcIssuerURL = fs.String("oidc.issuer-url", "", "OIDC issuer URL")
	f.oidcClientID = fs.String("oidc.client-id", "", "OIDC client ID")
	f.oidcRedirectURL = fs.String("oidc.redirect-url", "", "OIDC redirect URL (the /auth endpoint)")
	f.oidcAdminGroup = fs.String("oidc.admin-group", "", "Group granting access to the admin status page")

	// Crypto flags
	f.cryptoCACertPath = fs.String("crypto.ca-cert", "", "Path to the CA certificate")
	f.cryptoCAKeyPath = fs.String("crypto.ca-key", "", "Path to the CA private key")
	f.cryptoKeyAlgorithm = fs.String("crypto.key-algorithm", "", "Device key algorithm (rsa or ecdsa)")

	// Tunnel key and template flags
	f.tlscryptKeyPath = fs.String("tlscrypt.key-path", "", "Path to the tls-crypt or tls-crypt-v2 server key")
	f.templatesPath = fs.String("templates.path", "", "Directory containing <priority>.<group>.ovpn templates")
	f.optionSetsPath = fs.String("templates.optionsets-path", "", "Directory containing <name>.opts option sets")
	f.tokenLifetimeHours = fs.Int("tokens.lifetime-hours", 0, "Hours to keep download token records before cleanup")

	// Logging flags
	f.logLevel = fs.StringP("log.level", "l", "", "Log level (debug, info, warn, error)")
	f.logFormat = fs.String("log.format", "", "Log format (json or console)")

	// Security flags
	f.securityCORSEnabled = fs.Bool("security.cors-enabled", false, "Enable CORS")
	f.securityCORSOrigins = fs.StringSlice("security.cors-origins", nil, "CORS allowed origins (can be specified multiple times)")

	// Tooling flags. Each performs its task and exits.
	f.generateDevCA = fs.String("generate-dev-ca", "", "Write a self-signed development CA (ca.crt, ca.key) into this directory and exit")
	f.generateEncryptionKey = fs.Bool("generate-encryption-key", false, "Print a new payload encryption key and exit")
	f.issueTaskToken = fs.String("issue-task-token", "", "Print a bearer token for the cleanup task endpoint, using this subject, and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "OVPN Manager - issues one-time OpenVPN client configurations\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration priority (highest to lowest):\n")
		fmt.Fprintf(os.Stderr, "  1. Command line flags\n")
		fmt.Fprintf(os.Stderr, "  2. Environment variables (OVPN_*)\n")
		fmt.Fprintf(os.Stderr, "  3. Configuration file (default: config.yaml)\n")
	}

	return f
}

// ParseFlags defines and parses the command line flags of the server binary
func ParseFlags(args []string) (*Flags, string, bool, error) {
	f := NewFlags(flag.NewFlagSet("ovpn-manager", flag.ContinueOnError))
	if err := f.fs.Parse(args); err != nil {
		return nil, "", false, err
	}
	return f, *f.configFile, *f.version, nil
}

// GenerateDevCA returns the output directory of --generate-dev-ca
func (f *Flags) GenerateDevCA() string {
	return *f.generateDevCA
}

// GenerateEncryptionKey reports whether --generate-encryption-key was given
func (f *Flags) GenerateEncryptionKey() bool {
	return *f.generateEncryptionKey
}

// IssueTaskToken returns the subject of --issue-task-token
func (f *Flags) IssueTaskToken() string {
	return *f.issueTaskToken
}

func (f *Flags) changed(name string) bool {
	fl := f.fs.Lookup(name)
	return fl != nil && fl.Changed
}

// apply copies every explicitly set flag into the configuration
func (f *Flags) apply(c *Config) error {
	if f.changed("server.port") {
		c.Server.Port = *f.serverPort
	}
	if f.changed("server.host") {
		c.Server.Host = *f.serverHost
	}
	if f.changed("server.read-timeout") {
		d, err := time.ParseDuration(*f.serverReadTimeout)
		if err != nil {
			return fmt.Errorf("server.read-timeout: %w", err)
		}
		c.Server.ReadTimeout = d
	}
	if f.changed("server.write-timeout") {
		d, err := time.ParseDuration(*f.serverWriteTimeout)
		if err != nil {
			return fmt.Errorf("server.write-timeout: %w", err)
		}
		c.Server.WriteTimeout = d
	}
	if f.changed("server.tls-enabled") {
		c.Server.TLSEnabled = *f.serverTLSEnabled
	}
	if f.changed("server.tls-cert") {
		c.Server.TLSCert = *f.serverTLSCert
	}
	if f.changed("server.tls-key") {
		c.Server.TLSKey = *f.serverTLSKey
	}

	if f.changed("db.type") {
		c.Database.Type = *f.dbType
	}
	if f.changed("db.sqlite.path") {
		c.Database.SQLite.Path = *f.dbSQLitePath
	}
	if f.changed("db.postgres.host") {
		c.Database.Postgres.Host = *f.dbPostgresHost
	}
	if f.changed("db.postgres.port") {
		c.Database.Postgres.Port = *f.dbPostgresPort
	}
	if f.changed("db.postgres.database") {
		c.Database.Postgres.Database = *f.dbPostgresDatabase
	}
	if f.changed("db.postgres.user") {
		c.Database.Postgres.User = *f.dbPostgresUser
	}
	if f.changed("db.postgres.password") {
		c.Database.Postgres.Password = *f.dbPostgresPassword
	}
	if f.changed("db.postgres.ssl-mode") {
		c.Database.Postgres.SSLMode = *f.dbPostgresSSLMode
	}

	if f.changed("oidc.issuer-url") {
		c.OIDC.IssuerURL = *f.oidcIssuerURL
	}
	if f.changed("oidc.client-id") {
		c.OIDC.ClientID = *f.oidcClientID
	}
	if f.changed("oidc.redirect-url") {
		c.OIDC.RedirectURL = *f.oidcRedirectURL
	}
	if f.changed("oidc.admin-group") {
		c.OIDC.AdminGroup = *f.oidcAdminGroup
	}

	if f.changed("crypto.ca-cert") {
		c.Crypto.CACertPath = *f.cryptoCACertPath
	}
	if f.changed("crypto.ca-key") {
		c.Crypto.CAKeyPath = *f.cryptoCAKeyPath
	}
	if f.changed("crypto.key-algorithm") {
		c.Crypto.KeyAlgorithm = *f.cryptoKeyAlgorithm
	}

	if f.changed("tlscrypt.key-path") {
		c.TLSCrypt.KeyPath = *f.tlscryptKeyPath
	}
	if f.changed("templates.path") {
		c.Templates.Path = *f.templatesPath
	}
	if f.changed("templates.optionsets-path") {
		c.Templates.OptionSetsPath = *f.optionSetsPath
	}
	if f.changed("tokens.lifetime-hours") {
		c.Tokens.LifetimeHours = *f.tokenLifetimeHours
	}

	if f.changed("log.level") {
		c.Logging.Level = *f.logLevel
	}
	if f.changed("log.format") {
		c.Logging.Format = *f.logFormat
	}

	if f.changed("security.cors-enabled") {
		c.Security.CORSEnabled = *f.securityCORSEnabled
	}
	if f.changed("security.cors-origins") {
		c.Security.CORSOrigins = *f.securityCORSOrigins
	}

	return nil
}
