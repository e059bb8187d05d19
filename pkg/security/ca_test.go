package security

import (
	"crypto/x509"
	"os"
	"testing"
	"time"

	"github.com/maand-sh/maand/pkg/storage"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "maand-ca-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.NewBoltStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadOrInitGeneratesRootOnce(t *testing.T) {
	if err := SetClusterEncryptionKey(DeriveKeyFromClusterID("test-bucket")); err != nil {
		t.Fatalf("set encryption key: %v", err)
	}
	store := newTestStore(t)

	ca := NewCertAuthority(store)
	fp1, created, err := ca.LoadOrInit("test-bucket")
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if !created {
		t.Error("expected a fresh CA to be created")
	}
	if fp1 == "" {
		t.Error("expected a non-empty fingerprint")
	}
	if ca.RootCACert() == nil {
		t.Error("expected root CA cert to be set")
	}

	ca2 := NewCertAuthority(store)
	fp2, created2, err := ca2.LoadOrInit("test-bucket")
	if err != nil {
		t.Fatalf("second LoadOrInit: %v", err)
	}
	if created2 {
		t.Error("second call should load the existing CA, not create one")
	}
	if fp1 != fp2 {
		t.Error("fingerprint should be stable across reloads")
	}
}

func TestIssueLeafSignedByRoot(t *testing.T) {
	if err := SetClusterEncryptionKey(DeriveKeyFromClusterID("test-bucket-2")); err != nil {
		t.Fatalf("set encryption key: %v", err)
	}
	store := newTestStore(t)

	ca := NewCertAuthority(store)
	if _, _, err := ca.LoadOrInit("test-bucket-2"); err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	leaf, err := ca.IssueLeaf("10.0.0.1", "", false, 60*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	if len(leaf.CertPEM) == 0 || len(leaf.KeyPEM) == 0 {
		t.Fatal("expected non-empty cert and key PEM")
	}

	cert, err := DecodeCertPEM(leaf.CertPEM)
	if err != nil {
		t.Fatalf("decode issued cert: %v", err)
	}

	rootCert, err := x509.ParseCertificate(ca.RootCACert())
	if err != nil {
		t.Fatalf("parse root cert: %v", err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(rootCert)
	opts := x509.VerifyOptions{Roots: roots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}}
	if _, err := cert.Verify(opts); err != nil {
		t.Errorf("leaf certificate did not verify against root: %v", err)
	}
}

func TestNeedsRenewal(t *testing.T) {
	soon := time.Now().Add(5 * 24 * time.Hour)
	if !NeedsRenewal(soon, "fp-a", "fp-a", 15) {
		t.Error("expected renewal when within the renew window")
	}
	far := time.Now().Add(90 * 24 * time.Hour)
	if NeedsRenewal(far, "fp-a", "fp-a", 15) {
		t.Error("did not expect renewal far from expiry with matching fingerprint")
	}
	if !NeedsRenewal(far, "fp-old", "fp-new", 15) {
		t.Error("expected forced renewal on CA fingerprint change")
	}
}
