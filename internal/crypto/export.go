package crypto

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"
)

// ExportInlinePKCS12 bundles the device certificate, its key and the CA chain into a
// passwordless PKCS#12 file, base64 encoded for an OpenVPN <pkcs12> inline block.
func ExportInlinePKCS12(device *DeviceCertificate, ca *CertificateAuthority) (string, error) {
	var caCerts []*x509.Certificate
	if ca != nil && ca.Certificate != nil {
		caCerts = append(caCerts, ca.Certificate)
	}

	pfxData, err := pkcs12.Passwordless.Encode(device.PrivateKey, device.Certificate, caCerts, "")
	if err != nil {
		return "", fmt.Errorf("failed to encode PKCS#12: %w", err)
	}

	return base64.StdEncoding.EncodeToString(pfxData), nil
}

// ParseCertificatePEM parses a PEM-encoded certificate
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return cert, nil
}

// Fingerprint returns the base64 SHA-256 digest of a PEM certificate's DER bytes
func Fingerprint(certPEM string) (string, error) {
	cert, err := ParseCertificatePEM([]byte(certPEM))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(cert.Raw)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
