package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"time"
)

// DeviceCertificateValidity is the lifetime of an issued device certificate
const DeviceCertificateValidity = 365 * 24 * time.Hour

// SubjectFields holds the fixed, non-identity subject attributes of a device certificate
type SubjectFields struct {
	Country      string
	State        string
	Locality     string
	Organization string
}

// DeviceCertificateRequest represents a request to issue a device certificate
type DeviceCertificateRequest struct {
	SubjectLabel string
	Subject      SubjectFields
	Algorithm    string // "rsa" or "ecdsa"
	RSABits      int
	ECCurve      string // "P384" or "P521"
	// Now overrides the issuance time; zero means time.Now()
	Now time.Time
}

// DeviceCertificate contains a freshly issued device certificate and its key.
// Nothing here is persisted; the caller owns the key material.
type DeviceCertificate struct {
	Certificate    *x509.Certificate
	CertificatePEM string
	PrivateKey     crypto.Signer
	PrivateKeyPEM  string
	CommonName     string
	NotAfter       time.Time
}

// CommonNameFor builds the unique device common name "<label>-<unix seconds>.<microseconds>"
func CommonNameFor(label string, at time.Time) string {
	return fmt.Sprintf("%s-%d.%06d", label, at.Unix(), at.Nanosecond()/int(time.Microsecond))
}

// IssueDeviceCertificate generates a new key pair and a client certificate signed by the CA
func IssueDeviceCertificate(req *DeviceCertificateRequest, ca *CertificateAuthority) (*DeviceCertificate, error) {
	if ca == nil || ca.Certificate == nil || ca.PrivateKey == nil {
		return nil, fmt.Errorf("certificate authority not loaded")
	}

	privateKey, err := generatePrivateKey(req.Algorithm, req.RSABits, req.ECCurve)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := req.Now
	if notBefore.IsZero() {
		notBefore = time.Now()
	}
	notBefore = notBefore.UTC()
	notAfter := notBefore.Add(DeviceCertificateValidity)
	commonName := CommonNameFor(req.SubjectLabel, notBefore)

	signatureAlgorithm, err := sha256SignatureAlgorithm(ca.PrivateKey)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Country:      nonEmpty(req.Subject.Country),
			Province:     nonEmpty(req.Subject.State),
			Locality:     nonEmpty(req.Subject.Locality),
			Organization: nonEmpty(req.Subject.Organization),
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		SignatureAlgorithm:    signatureAlgorithm,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, privateKey.Public(), ca.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &DeviceCertificate{
		Certificate:    cert,
		CertificatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})),
		PrivateKey:     privateKey,
		PrivateKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
		CommonName:     commonName,
		NotAfter:       cert.NotAfter,
	}, nil
}

// sha256SignatureAlgorithm pins the digest to SHA-256 regardless of the CA key size
func sha256SignatureAlgorithm(signer crypto.Signer) (x509.SignatureAlgorithm, error) {
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported CA key type %T", signer.Public())
	}
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
