// Package verify checks detached minisign signatures on discovery files.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

// SignatureSuffix is appended to a file path to find its detached signature.
const SignatureSuffix = ".minisig"

// MinisignVerifier verifies files signed with a trusted minisign key.
type MinisignVerifier struct {
	publicKey minisign.PublicKey
}

// NewMinisignVerifier parses a minisign public key including its comment
// line.
func NewMinisignVerifier(pubKey string) (*MinisignVerifier, error) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return nil, errors.New("minisign public key is required")
	}
	publicKey, err := minisign.DecodePublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &MinisignVerifier{publicKey: publicKey}, nil
}

// LoadPublicKey accepts either a key file path or the key text itself.
func LoadPublicKey(value string) (*MinisignVerifier, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("minisign public key is required")
	}
	if !strings.Contains(value, "\n") {
		if data, err := os.ReadFile(value); err == nil {
			return NewMinisignVerifier(string(data))
		}
	}
	return NewMinisignVerifier(value)
}

// VerifyFile checks path against path+".minisig".
func (v *MinisignVerifier) VerifyFile(ctx context.Context, path string) error {
	return v.Verify(ctx, path, path+SignatureSuffix)
}

// Verify reads the file and detached signature from disk and validates the
// signature.
func (v *MinisignVerifier) Verify(ctx context.Context, artifactPath, signaturePath string) error {
	if v == nil {
		return errors.New("signature verifier not configured")
	}
	if strings.TrimSpace(artifactPath) == "" {
		return errors.New("artifact path is required")
	}
	if strings.TrimSpace(signaturePath) == "" {
		return errors.New("signature path is required")
	}
	signature, err := os.ReadFile(signaturePath)
	if err != nil {
		return fmt.Errorf("read signature %q: %w", signaturePath, err)
	}
	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("read artifact %q: %w", artifactPath, err)
	}
	return v.VerifyBytes(ctx, artifact, signature)
}

func (v *MinisignVerifier) VerifyBytes(ctx context.Context, data, signature []byte) error {
	if v == nil {
		return errors.New("signature verifier not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sig, err := minisign.DecodeSignature(string(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	ok, err := v.publicKey.Verify(data, sig)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature verification failed")
	}
	return nil
}
