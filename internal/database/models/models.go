// Package models defines the data structures for database entities.
package models

import (
	"time"
)

// DownloadToken is the one-time, time-boxed handle to an encrypted client configuration
type DownloadToken struct {
	ID                 string    `db:"id" json:"id"`
	Token              string    `db:"token" json:"-"`
	Subject            string    `db:"subject" json:"subject"`
	CommonName         string    `db:"common_name" json:"common_name"`
	RequesterIP        string    `db:"requester_ip" json:"requester_ip"`
	RequesterUserAgent string    `db:"requester_user_agent" json:"requester_user_agent"`
	CertExpiry         time.Time `db:"cert_expiry" json:"cert_expiry"`
	DetectedOS         string    `db:"detected_os" json:"detected_os"`
	OptionSetUsed      string    `db:"optionset_used" json:"optionset_used"`
	// Payload is nonce || ciphertext || tag; nil once collected or expired
	Payload      []byte    `db:"payload" json:"-"`
	Downloadable bool      `db:"downloadable" json:"downloadable"`
	Collected    bool      `db:"collected" json:"collected"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// IsDownloadWindowExpired reports whether the record is older than window at now
func (t *DownloadToken) IsDownloadWindowExpired(now time.Time, window time.Duration) bool {
	return now.After(t.CreatedAt.Add(window))
}
