package security

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	if err := SetClusterEncryptionKey(DeriveKeyFromClusterID("secrets-test")); err != nil {
		t.Fatalf("set key: %v", err)
	}

	plaintext := []byte("super secret leaf key material")
	ciphertext, err := Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}

	decrypted, err := Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	if err := SetClusterEncryptionKey(DeriveKeyFromClusterID("secrets-test-2")); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if _, err := Decrypt([]byte("x")); err == nil {
		t.Error("expected error decrypting truncated ciphertext")
	}
}

func TestDeriveKeyFromClusterIDIsDeterministic(t *testing.T) {
	k1 := DeriveKeyFromClusterID("bucket-x")
	k2 := DeriveKeyFromClusterID("bucket-x")
	if string(k1) != string(k2) {
		t.Error("expected deterministic key derivation for the same bucket id")
	}
	if len(k1) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(k1))
	}
}
