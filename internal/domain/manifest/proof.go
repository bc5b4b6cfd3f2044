package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// ProofVersion identifies the proof layout
const ProofVersion = "evidence-proof/v1"

// Proof is the detached signature plus what a third party needs to check it
// offline. It is written once at finalize time and never regenerated.
type Proof struct {
	Version        string            `json:"version"`
	ManifestSHA256 values.HashValue  `json:"manifest_sha256"`
	Signature      values.Signature  `json:"signature"`
	KeyID          string            `json:"key_id"`
	Algorithm      signing.Algorithm `json:"algorithm"`
	PublicKeyPEM   string            `json:"public_key_pem,omitempty"`
	SignedAt       string            `json:"signed_at"`
}

// NewProof assembles a proof from a signing result
func NewProof(digest values.HashValue, res *signing.Result, publicKeyPEM string, signedAt time.Time) (*Proof, error) {
	sig, err := values.NewSignature(res.SignatureBase64)
	if err != nil {
		return nil, err
	}
	return &Proof{
		Version:        ProofVersion,
		ManifestSHA256: digest,
		Signature:      sig,
		KeyID:          res.KeyID,
		Algorithm:      res.Algorithm,
		PublicKeyPEM:   publicKeyPEM,
		SignedAt:       canonical.FormatTime(signedAt),
	}, nil
}

// Canonical returns the canonical encoding of the proof
func (p *Proof) Canonical() ([]byte, error) {
	return canonical.Marshal(p)
}

// ParseProof decodes a stored proof
func ParseProof(data []byte) (*Proof, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p Proof
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding proof: %w", err)
	}
	if p.Version != ProofVersion {
		return nil, fmt.Errorf("unsupported proof version %q", p.Version)
	}
	return &p, nil
}
