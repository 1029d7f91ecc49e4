// Package database provides database connection management, migrations, and data access
// methods for download token records.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/database/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database represents the database connection and operations
type Database struct {
	db     *sql.DB
	dbType string
}

// New creates a new database connection
func New(cfg *config.Config) (*Database, error) {
	var db *sql.DB
	var err error

	switch cfg.Database.Type {
	case "sqlite":
		db, err = sql.Open("sqlite3", cfg.Database.SQLite.Path+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// SQLite only allows one writer at a time
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sql.Open("postgres", cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		db:     db,
		dbType: cfg.Database.Type,
	}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying database connection for direct queries
func (d *Database) DB() *sql.DB {
	return d.db
}

// Ping checks that the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	var migrationFiles []string
	if d.dbType == "postgres" {
		migrationFiles = []string{
			"migrations/000001_download_tokens.postgres.up.sql",
		}
	} else {
		migrationFiles = []string{
			"migrations/000001_download_tokens.up.sql",
		}
	}

	for _, migrationFile := range migrationFiles {
		content, err := migrationsFS.ReadFile(migrationFile)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", migrationFile, err)
		}

		for _, stmt := range splitStatements(string(content)) {
			if _, err := d.db.Exec(stmt); err != nil {
				if !strings.Contains(err.Error(), "duplicate column") && !strings.Contains(err.Error(), "already exists") {
					return fmt.Errorf("migration %s failed: %w\nStatement: %s", migrationFile, err, stmt)
				}
			}
		}
	}

	return nil
}

// splitStatements drops comment lines and splits on statement-ending semicolons
func splitStatements(content string) []string {
	var statements []string
	var currentStmt strings.Builder

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "--") || line == "" {
			continue
		}

		currentStmt.WriteString(line)
		currentStmt.WriteString("\n")

		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(currentStmt.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			currentStmt.Reset()
		}
	}

	return statements
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func (d *Database) rebind(query string) string {
	if d.dbType != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Download token operations

const downloadTokenColumns = `id, token, subject, common_name, requester_ip, requester_user_agent,
	cert_expiry, detected_os, optionset_used, payload, downloadable, collected, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownloadToken(row rowScanner) (*models.DownloadToken, error) {
	var t models.DownloadToken
	err := row.Scan(
		&t.ID, &t.Token, &t.Subject, &t.CommonName, &t.RequesterIP, &t.RequesterUserAgent,
		&t.CertExpiry, &t.DetectedOS, &t.OptionSetUsed, &t.Payload, &t.Downloadable, &t.Collected, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.CertExpiry = t.CertExpiry.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// CreateDownloadToken inserts a new download token record
func (d *Database) CreateDownloadToken(ctx context.Context, t *models.DownloadToken) error {
	query := `INSERT INTO download_tokens (` + downloadTokenColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, d.rebind(query),
		t.ID, t.Token, t.Subject, t.CommonName, t.RequesterIP, t.RequesterUserAgent,
		t.CertExpiry.UTC(), t.DetectedOS, t.OptionSetUsed, t.Payload, t.Downloadable, t.Collected, t.CreatedAt.UTC(),
	)
	return err
}

// GetDownloadToken retrieves a record by its token, or sql.ErrNoRows
func (d *Database) GetDownloadToken(ctx context.Context, token string) (*models.DownloadToken, error) {
	query := `SELECT ` + downloadTokenColumns + ` FROM download_tokens WHERE token = ?`
	return scanDownloadToken(d.db.QueryRowContext(ctx, d.rebind(query), token))
}

// ClaimDownloadToken atomically marks an active record created at or after
// notBefore as collected and clears its payload. The claimed record, payload
// included, is passed to open inside the transaction; if open fails the claim
// is rolled back. It returns sql.ErrNoRows when nothing could be claimed.
func (d *Database) ClaimDownloadToken(ctx context.Context, token string, notBefore time.Time, open func(*models.DownloadToken) error) (*models.DownloadToken, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The conditional update is the single arbiter between concurrent
	// retrievals. The payload is returned here because it is still set.
	claim := `UPDATE download_tokens
	          SET collected = TRUE, downloadable = FALSE
	          WHERE token = ? AND collected = FALSE AND downloadable = TRUE AND created_at >= ?
	          RETURNING ` + downloadTokenColumns
	record, err := scanDownloadToken(tx.QueryRowContext(ctx, d.rebind(claim), token, notBefore.UTC()))
	if err != nil {
		return nil, err
	}

	clear := `UPDATE download_tokens SET payload = NULL WHERE id = ?`
	if _, err := tx.ExecContext(ctx, d.rebind(clear), record.ID); err != nil {
		return nil, fmt.Errorf("failed to clear payload: %w", err)
	}

	if err := open(record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	record.Payload = nil
	record.Collected = true
	record.Downloadable = false
	return record, nil
}

// ExpireDownloadToken clears the payload of an active record created before
// cutoff and reports whether a record was expired by this call
func (d *Database) ExpireDownloadToken(ctx context.Context, token string, cutoff time.Time) (bool, error) {
	query := `UPDATE download_tokens
	          SET downloadable = FALSE, payload = NULL
	          WHERE token = ? AND downloadable = TRUE AND collected = FALSE AND created_at < ?`

	res, err := d.db.ExecContext(ctx, d.rebind(query), token, cutoff.UTC())
	if err != nil {
		return false, err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// DeleteDownloadTokensBefore deletes every record created before threshold,
// whatever its state, and returns the number deleted
func (d *Database) DeleteDownloadTokensBefore(ctx context.Context, threshold time.Time) (int64, error) {
	query := `DELETE FROM download_tokens WHERE created_at < ?`

	res, err := d.db.ExecContext(ctx, d.rebind(query), threshold.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TokenFilter narrows ListDownloadTokens
type TokenFilter struct {
	// State is "", "downloadable" or "collected"
	State          string
	CreatedAfter   time.Time
	CertExpiryFrom time.Time
	CertExpiryTo   time.Time
	Limit          int
}

// ListDownloadTokens returns matching records, newest first, without payloads
func (d *Database) ListDownloadTokens(ctx context.Context, f TokenFilter) ([]*models.DownloadToken, error) {
	var where []string
	var args []any

	switch f.State {
	case "downloadable":
		where = append(where, "downloadable = TRUE", "collected = FALSE")
	case "collected":
		where = append(where, "collected = TRUE")
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.UTC())
	}
	if !f.CertExpiryFrom.IsZero() {
		where = append(where, "cert_expiry >= ?")
		args = append(args, f.CertExpiryFrom.UTC())
	}
	if !f.CertExpiryTo.IsZero() {
		where = append(where, "cert_expiry <= ?")
		args = append(args, f.CertExpiryTo.UTC())
	}

	query := `SELECT ` + downloadTokenColumns + ` FROM download_tokens`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.DownloadToken
	for rows.Next() {
		t, err := scanDownloadToken(rows)
		if err != nil {
			return nil, err
		}
		t.Payload = nil
		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}
