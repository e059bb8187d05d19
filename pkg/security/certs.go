package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// applySAN parses a subject-alt-name string into the leaf template. It
// accepts the bare-DNS-name form a job manifest's subject_alt_name field
// typically carries, and the "DNS:localhost,IP:127.0.0.1,IP:10.0.0.1" form
// spec.md §4.H specifies for host certificates.
func applySAN(template *x509.Certificate, subjectAltName string) {
	if subjectAltName == "" {
		return
	}
	if !strings.Contains(subjectAltName, ":") {
		template.DNSNames = []string{subjectAltName}
		return
	}
	for _, entry := range strings.Split(subjectAltName, ",") {
		entry = strings.TrimSpace(entry)
		kind, value, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		switch strings.ToUpper(kind) {
		case "DNS":
			template.DNSNames = append(template.DNSNames, value)
		case "IP":
			if ip := net.ParseIP(value); ip != nil {
				template.IPAddresses = append(template.IPAddresses, ip)
			}
		}
	}
}

// EncodeCertPEM wraps a DER certificate in a PEM block.
func EncodeCertPEM(certDER []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
}

// EncodeRSAKeyPEM encodes an RSA private key in PKCS1 PEM form, the
// default a job manifest's cert entry gets when pkcs8 is false.
func EncodeRSAKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// EncodePKCS8KeyPEM encodes an RSA private key in PKCS8 PEM form, selected
// by a job manifest cert entry's pkcs8 flag.
func EncodePKCS8KeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodeCertPEM parses a single PEM-encoded certificate.
func DecodeCertPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// WriteCertFiles stages a leaf certificate's cert/key/ca.crt trio under
// dir, matching the file names the command executor's render step expects
// (<name>.crt, <name>.key, ca.crt).
func WriteCertFiles(dir, name string, certPEM, keyPEM, caPEM []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create cert dir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".crt"), certPEM, 0644); err != nil {
		return fmt.Errorf("write %s.crt: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0600); err != nil {
		return fmt.Errorf("write %s.key: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ca.crt"), caPEM, 0644); err != nil {
		return fmt.Errorf("write ca.crt: %w", err)
	}
	return nil
}

// GetCertExpiry returns the certificate's expiry time, or the zero value
// for a nil certificate.
func GetCertExpiry(cert *x509.Certificate) time.Time {
	if cert == nil {
		return time.Time{}
	}
	return cert.NotAfter
}
