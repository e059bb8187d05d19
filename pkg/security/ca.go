package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/storage"
)

// KV namespaces the certificate engine archives issued material under
// (spec.md §4.H, supplemented with the "maand/" prefix convention from
// original_source).
const (
	nsCerts = "maand/certs"
	kvCAKey = "ca"
)

// CertAuthority is the cluster's certificate authority: one self-signed
// root, keyed by the bucket ID, that signs every per-host and per-job leaf
// certificate the deployment orchestrator ships out.
type CertAuthority struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	store    storage.Tx
	mu       sync.RWMutex
}

const (
	rootCAValidity = 10 * 365 * 24 * time.Hour
	rootKeySize    = 4096
	leafKeySize    = 2048
)

// NewCertAuthority builds a CA bound to the given transaction/store.
func NewCertAuthority(store storage.Tx) *CertAuthority {
	return &CertAuthority{store: store}
}

// LoadOrInit loads the CA from the KV archive, generating and persisting a
// fresh self-signed root keyed by bucketID if none exists yet.
func (ca *CertAuthority) LoadOrInit(bucketID string) (fingerprint string, created bool, err error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	raw, ok, err := ca.store.Get(nsCerts, kvCAKey)
	if err != nil {
		return "", false, fmt.Errorf("load CA: %w", err)
	}
	if ok {
		var data caData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return "", false, fmt.Errorf("decode CA: %w", err)
		}
		rootCert, err := x509.ParseCertificate(data.RootCertDER)
		if err != nil {
			return "", false, fmt.Errorf("parse CA cert: %w", err)
		}
		keyDER, err := Decrypt(data.RootKeyDER)
		if err != nil {
			return "", false, fmt.Errorf("decrypt CA key: %w", err)
		}
		rootKey, err := x509.ParsePKCS1PrivateKey(keyDER)
		if err != nil {
			return "", false, fmt.Errorf("parse CA key: %w", err)
		}
		ca.rootCert = rootCert
		ca.rootKey = rootKey
		return fingerprintOf(rootCert), false, nil
	}

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return "", false, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", false, fmt.Errorf("generate CA serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"maand"},
			CommonName:   bucketID,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return "", false, fmt.Errorf("create CA cert: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", false, fmt.Errorf("parse generated CA cert: %w", err)
	}

	encKey, err := Encrypt(x509.MarshalPKCS1PrivateKey(rootKey))
	if err != nil {
		return "", false, fmt.Errorf("encrypt CA key: %w", err)
	}
	raw2, err := json.Marshal(caData{RootCertDER: certDER, RootKeyDER: encKey})
	if err != nil {
		return "", false, fmt.Errorf("encode CA: %w", err)
	}
	if err := ca.store.Put(nsCerts, kvCAKey, string(raw2), 0); err != nil {
		return "", false, fmt.Errorf("archive CA: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	metrics.CertificatesIssuedTotal.WithLabelValues("ca", "init").Inc()
	return fingerprintOf(rootCert), true, nil
}

type caData struct {
	RootCertDER []byte
	RootKeyDER  []byte
}

func fingerprintOf(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// RootCACert returns the CA certificate in DER form, for staging ca.crt on
// hosts.
func (ca *CertAuthority) RootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// Fingerprint returns the current root's sha256 fingerprint, used to force
// leaf renewal whenever the CA itself rotates (spec.md §4.H).
func (ca *CertAuthority) Fingerprint() string {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return ""
	}
	return fingerprintOf(ca.rootCert)
}

// IssuedCert is one signed leaf: the PEM-encoded certificate and its
// private key, plus metadata used to decide when it needs renewal.
type IssuedCert struct {
	CertPEM   []byte
	KeyPEM    []byte
	NotAfter  time.Time
	CAFingerprint string
}

// IssueLeaf signs a leaf certificate for subject/SAN, per a job manifest's
// certs entry (types.JobCert) or a host identity. pkcs8 selects the private
// key encoding the manifest requested.
func (ca *CertAuthority) IssueLeaf(subject, subjectAltName string, pkcs8 bool, ttl time.Duration) (*IssuedCert, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("certificate authority not initialized")
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate leaf serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"maand"}, CommonName: subject},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(ttl),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	applySAN(template, subjectAltName)

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("sign leaf certificate: %w", err)
	}

	certPEM := EncodeCertPEM(certDER)
	var keyPEM []byte
	if pkcs8 {
		keyPEM, err = EncodePKCS8KeyPEM(key)
	} else {
		keyPEM = EncodeRSAKeyPEM(key)
	}
	if err != nil {
		return nil, fmt.Errorf("encode leaf key: %w", err)
	}

	return &IssuedCert{
		CertPEM:       certPEM,
		KeyPEM:        keyPEM,
		NotAfter:      template.NotAfter,
		CAFingerprint: fingerprintOf(ca.rootCert),
	}, nil
}

// NeedsRenewal reports whether a previously issued cert should be
// reissued: within renewDays of expiry, or signed by a CA that has since
// rotated (spec.md §4.H).
func NeedsRenewal(notAfter time.Time, caFingerprint, currentFingerprint string, renewDays int) bool {
	if caFingerprint != currentFingerprint {
		return true
	}
	return time.Until(notAfter) < time.Duration(renewDays)*24*time.Hour
}
