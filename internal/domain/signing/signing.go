// Package signing defines the key-management boundary used to sign manifest
// digests and the offline verification primitive used to check them.
package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Algorithm identifies an asymmetric signing scheme over a SHA-256 digest.
// It is configured per key, never negotiated per call.
type Algorithm string

const (
	AlgorithmRSAPSSSHA256 Algorithm = "RSA_PSS_SHA256"
	AlgorithmECDSASHA256  Algorithm = "ECDSA_SHA256"
)

var (
	ErrUnsupportedAlgorithm = errors.New("signing: unsupported algorithm")
	ErrInvalidPublicKey     = errors.New("signing: invalid public key")
	ErrInvalidDigest        = errors.New("signing: digest must be 32 bytes")
	ErrInvalidSignature     = errors.New("signing: signature verification failed")
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmRSAPSSSHA256, AlgorithmECDSASHA256:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// KeyManager is the external key-management boundary. Implementations never
// expose private key material.
type KeyManager interface {
	// Sign signs a precomputed SHA-256 digest with the key identified by keyID.
	Sign(ctx context.Context, keyID string, digest []byte, alg Algorithm) ([]byte, error)
	// PublicKey returns the PEM encoded (PKIX) public key of keyID.
	PublicKey(ctx context.Context, keyID string) (string, error)
}

// Result is a detached signature over a digest.
type Result struct {
	SignatureBase64 string    `json:"signature"`
	KeyID           string    `json:"key_id"`
	Algorithm       Algorithm `json:"algorithm"`
}

// ParsePublicKeyPEM decodes a PKIX public key.
func ParsePublicKeyPEM(publicKeyPEM string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPublicKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// EncodePublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" PEM block.
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return EncodeDERPublicKey(der), nil
}

// EncodeDERPublicKey wraps DER bytes in a "PUBLIC KEY" PEM block.
func EncodeDERPublicKey(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// VerifySignature checks sig over digest with the given public key. It needs
// nothing but the proof contents, so third parties can run it offline.
func VerifySignature(alg Algorithm, publicKeyPEM string, digest, sig []byte) error {
	if len(digest) != sha256.Size {
		return ErrInvalidDigest
	}

	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return err
	}

	switch alg {
	case AlgorithmRSAPSSSHA256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an RSA key, got %T", ErrInvalidPublicKey, alg, pub)
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
		if err := rsa.VerifyPSS(rsaPub, crypto.SHA256, digest, sig, opts); err != nil {
			return ErrInvalidSignature
		}
	case AlgorithmECDSASHA256:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an EC key, got %T", ErrInvalidPublicKey, alg, pub)
		}
		if !ecdsa.VerifyASN1(ecPub, digest, sig) {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return nil
}
