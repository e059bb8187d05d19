package security

import (
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeDecodeCertPEM(t *testing.T) {
	if err := SetClusterEncryptionKey(DeriveKeyFromClusterID("certs-test")); err != nil {
		t.Fatalf("set key: %v", err)
	}
	store := newTestStore(t)
	ca := NewCertAuthority(store)
	if _, _, err := ca.LoadOrInit("certs-test"); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	leaf, err := ca.IssueLeaf("job-a", "job-a.internal", false, 24*time.Hour)
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}

	cert, err := DecodeCertPEM(leaf.CertPEM)
	if err != nil {
		t.Fatalf("DecodeCertPEM: %v", err)
	}
	if cert.Subject.CommonName != "job-a" {
		t.Errorf("expected CN job-a, got %s", cert.Subject.CommonName)
	}
}

func TestEncodePKCS8KeyPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes, err := EncodePKCS8KeyPEM(key)
	if err != nil {
		t.Fatalf("EncodePKCS8KeyPEM: %v", err)
	}
	if len(pemBytes) == 0 {
		t.Fatal("expected non-empty PEM output")
	}
}

func TestWriteCertFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteCertFiles(dir, "job-a", []byte("cert"), []byte("key"), []byte("ca")); err != nil {
		t.Fatalf("WriteCertFiles: %v", err)
	}
	for _, name := range []string{"job-a.crt", "job-a.key", "ca.crt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}
