package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/youmark/pkcs8"
)

// ErrLoadCA is returned when the CA certificate or key cannot be read or parsed
var ErrLoadCA = errors.New("failed to load certificate authority")

// CertificateAuthority is a loaded CA key/certificate pair. It is read-only
// after construction and safe for concurrent use.
type CertificateAuthority struct {
	Certificate    *x509.Certificate
	CertificatePEM string
	PrivateKey     crypto.Signer
}

// CARequest represents a request to create a development Certificate Authority
type CARequest struct {
	Subject      pkix.Name
	Algorithm    string // "rsa" or "ecdsa"
	RSABits      int
	ECCurve      string // "P384" or "P521"
	ValidityDays int
}

// LoadCA reads and parses the CA certificate and private key files. The
// password is only used when the key is encrypted.
func LoadCA(certPath, keyPath, password string) (*CertificateAuthority, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read certificate: %v", ErrLoadCA, err)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read private key: %v", ErrLoadCA, err)
	}

	return ParseCA(certPEM, keyPEM, password)
}

// ParseCA parses a PEM encoded CA certificate and private key
func ParseCA(certPEM, keyPEM []byte, password string) (*CertificateAuthority, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadCA, err)
	}

	if !cert.IsCA {
		return nil, fmt.Errorf("%w: certificate is not a CA certificate", ErrLoadCA)
	}

	privateKey, err := parsePrivateKeyPEM(keyPEM, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadCA, err)
	}

	if !verifyKeyPair(cert, privateKey) {
		return nil, fmt.Errorf("%w: private key does not match certificate", ErrLoadCA)
	}

	return &CertificateAuthority{
		Certificate:    cert,
		CertificatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})),
		PrivateKey:     privateKey,
	}, nil
}

// GenerateCA generates a self-signed CA for local development and tests
func GenerateCA(req *CARequest) (*CertificateAuthority, error) {
	privateKey, err := generatePrivateKey(req.Algorithm, req.RSABits, req.ECCurve)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               req.Subject,
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, req.ValidityDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, privateKey.Public(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateAuthority{
		Certificate:    cert,
		CertificatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})),
		PrivateKey:     privateKey,
	}, nil
}

// PrivateKeyPEM encodes the CA private key as PKCS#8. A non-empty password
// produces an "ENCRYPTED PRIVATE KEY" block.
func (ca *CertificateAuthority) PrivateKeyPEM(password string) ([]byte, error) {
	if password == "" {
		der, err := x509.MarshalPKCS8PrivateKey(ca.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}

	der, err := pkcs8.MarshalPrivateKey(ca.PrivateKey, []byte(password), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}), nil
}

// WriteFiles writes the CA certificate and private key to the given paths
func (ca *CertificateAuthority) WriteFiles(certPath, keyPath, password string) error {
	keyPEM, err := ca.PrivateKeyPEM(password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, []byte(ca.CertificatePEM), 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// parsePrivateKeyPEM accepts PKCS#1, SEC1 and PKCS#8 keys, either in the clear,
// as encrypted PKCS#8, or with legacy RFC 1423 PEM encryption.
func parsePrivateKeyPEM(keyPEM []byte, password string) (crypto.Signer, error) {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	var key interface{}
	switch {
	case keyBlock.Type == "ENCRYPTED PRIVATE KEY":
		if password == "" {
			return nil, fmt.Errorf("private key is encrypted but no password provided")
		}
		parsed, err := pkcs8.ParsePKCS8PrivateKey(keyBlock.Bytes, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		key = parsed

	// RFC 1423, as written by "openssl rsa -aes256"
	case x509.IsEncryptedPEMBlock(keyBlock):
		if password == "" {
			return nil, fmt.Errorf("private key is encrypted but no password provided")
		}
		der, err := x509.DecryptPEMBlock(keyBlock, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		parsed, err := parsePrivateKeyDER(der)
		if err != nil {
			return nil, err
		}
		key = parsed

	default:
		parsed, err := parsePrivateKeyDER(keyBlock.Bytes)
		if err != nil {
			return nil, err
		}
		key = parsed
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

func parsePrivateKeyDER(der []byte) (interface{}, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse private key")
}

func generatePrivateKey(algorithm string, rsaBits int, ecCurve string) (crypto.Signer, error) {
	switch algorithm {
	case "rsa":
		return rsa.GenerateKey(rand.Reader, rsaBits)
	case "ecdsa":
		var curve elliptic.Curve
		switch ecCurve {
		case "P384":
			curve = elliptic.P384()
		case "P521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported EC curve: %s", ecCurve)
		}
		return ecdsa.GenerateKey(curve, rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}

func generateSerialNumber() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, serialNumberLimit)
}

func verifyKeyPair(cert *x509.Certificate, privateKey crypto.Signer) bool {
	switch pub := privateKey.Public().(type) {
	case *rsa.PublicKey:
		return pub.Equal(cert.PublicKey)
	case *ecdsa.PublicKey:
		return pub.Equal(cert.PublicKey)
	default:
		return false
	}
}
