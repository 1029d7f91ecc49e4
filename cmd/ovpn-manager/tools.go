package main

import (
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
)

const devCAValidityDays = 5 * 365

// printEncryptionKey writes a new base64 payload encryption key
func printEncryptionKey(w io.Writer) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, base64.StdEncoding.EncodeToString(key))
	return err
}

// writeDevCA writes a self-signed CA for local development into dir
func writeDevCA(cfg *config.Config, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	subject := cfg.Crypto.Subject
	ca, err := crypto.GenerateCA(&crypto.CARequest{
		Subject: pkix.Name{
			CommonName:   "dev-ca.localhost",
			Country:      nonEmpty(subject.Country),
			Province:     nonEmpty(subject.State),
			Locality:     nonEmpty(subject.Locality),
			Organization: nonEmpty(subject.Organization),
		},
		Algorithm:    cfg.Crypto.KeyAlgorithm,
		RSABits:      cfg.Crypto.RSABits,
		ECCurve:      cfg.Crypto.ECCurve,
		ValidityDays: devCAValidityDays,
	})
	if err != nil {
		return err
	}

	return ca.WriteFiles(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"), cfg.Crypto.CAKeyPassword)
}

// printTaskToken writes a bearer token accepted by the task endpoints
func printTaskToken(w io.Writer, cfg *config.Config, subject string) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is not configured")
	}
	token, err := auth.GenerateToken(subject, auth.RoleTask, cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
