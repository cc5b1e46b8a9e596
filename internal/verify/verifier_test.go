package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

type testKey struct {
	pub  string
	priv ed25519.PrivateKey
	id   [8]byte
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	k := testKey{priv: priv, id: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	raw := append([]byte("Ed"), k.id[:]...)
	raw = append(raw, pub...)
	k.pub = "untrusted comment: minisign public key 0807060504030201\n" + base64.StdEncoding.EncodeToString(raw)
	return k
}

func (k testKey) sign(data []byte) []byte {
	sig := ed25519.Sign(k.priv, data)
	raw := append([]byte("Ed"), k.id[:]...)
	raw = append(raw, sig...)
	trusted := "timestamp:1700000000\tfile:targets.yaml"
	global := ed25519.Sign(k.priv, append(append([]byte{}, sig...), []byte(trusted)...))
	return []byte("untrusted comment: signature from minisign secret key\n" +
		base64.StdEncoding.EncodeToString(raw) + "\n" +
		"trusted comment: " + trusted + "\n" +
		base64.StdEncoding.EncodeToString(global) + "\n")
}

func TestMinisignVerifierSuccess(t *testing.T) {
	key := newTestKey(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yaml")
	data := []byte("- name: google\n  host: google.com\n  category: top_sites\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(path+SignatureSuffix, key.sign(data), 0o644); err != nil {
		t.Fatalf("write signature: %v", err)
	}

	verifier, err := NewMinisignVerifier(key.pub)
	if err != nil {
		t.Fatalf("NewMinisignVerifier: %v", err)
	}
	if err := verifier.VerifyFile(context.Background(), path); err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
}

func TestMinisignVerifierRejectsTamperedFile(t *testing.T) {
	key := newTestKey(t)
	verifier, err := NewMinisignVerifier(key.pub)
	if err != nil {
		t.Fatalf("NewMinisignVerifier: %v", err)
	}
	sig := key.sign([]byte("original"))
	if err := verifier.VerifyBytes(context.Background(), []byte("tampered"), sig); err == nil {
		t.Fatalf("expected verification failure for tampered content")
	}
}

func TestLoadPublicKeyFromFile(t *testing.T) {
	key := newTestKey(t)
	path := filepath.Join(t.TempDir(), "discovery.pub")
	if err := os.WriteFile(path, []byte(key.pub+"\n"), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	verifier, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if err := verifier.VerifyBytes(context.Background(), []byte("data"), key.sign([]byte("data"))); err != nil {
		t.Fatalf("VerifyBytes: %v", err)
	}
	if _, err := LoadPublicKey(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	verifier, err := NewMinisignVerifier(newTestKey(t).pub)
	if err != nil {
		t.Fatalf("NewMinisignVerifier: %v", err)
	}
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := verifier.VerifyFile(context.Background(), path); err == nil {
		t.Fatalf("expected missing signature error")
	}
}
