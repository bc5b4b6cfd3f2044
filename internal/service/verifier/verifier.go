// Package verifier independently re-checks a manifest and its detached proof.
//
// Three checks run on every call and never short-circuit: the manifest digest
// against the proof, each recorded artifact hash against a live source, and
// the signature against the public key. Every failure is reported.
package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/manifest"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/metrics"
)

// Check names one independent verification
type Check string

const (
	CheckManifestHash   Check = "manifest_hash"
	CheckArtifactHashes Check = "artifact_hashes"
	CheckSignature      Check = "signature"
)

// Reason describes one failed check. ArtifactID is set for per-artifact failures.
type Reason struct {
	Check      Check  `json:"check"`
	ArtifactID string `json:"artifact_id,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Message    string `json:"message"`
}

// Result is the complete diagnosis. Checks maps each check that ran to its
// outcome; the artifact check is absent when no live source was given.
type Result struct {
	Valid            bool           `json:"valid"`
	Reasons          []Reason       `json:"reasons"`
	Checks           map[Check]bool `json:"checks"`
	ManifestSHA256   string         `json:"manifest_sha256"`
	ArtifactsChecked int            `json:"artifacts_checked"`
	Source           string         `json:"source,omitempty"`
	CheckedAt        time.Time      `json:"checked_at"`
}

// Messages lists the reason messages in order
func (r *Result) Messages() []string {
	out := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		out = append(out, reason.Message)
	}
	return out
}

// Add records a failed check
func (r *Result) Add(reason Reason) {
	r.Valid = false
	r.Checks[reason.Check] = false
	r.Reasons = append(r.Reasons, reason)
}

// Option configures a Verifier
type Option func(*Verifier)

// WithTrustedKey pins the public key signatures must verify against. A proof
// that carries a different key is reported.
func WithTrustedKey(publicKeyPEM string) Option {
	return func(v *Verifier) {
		v.trustedKey = strings.TrimSpace(publicKeyPEM)
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithClock(clk clock.Clock) Option {
	return func(v *Verifier) {
		v.clock = clock.OrReal(clk)
	}
}

// Verifier runs the checks. It holds no tenant state and is safe for concurrent use.
type Verifier struct {
	trustedKey string
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Registry
}

func New(opts ...Option) *Verifier {
	v := &Verifier{
		clock:  clock.RealClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks m and proof. live may be nil, in which case the artifact check is skipped.
func (v *Verifier) Verify(ctx context.Context, m *manifest.Manifest, proof *manifest.Proof, live LiveSource) *Result {
	result := &Result{
		Valid:     true,
		Reasons:   []Reason{},
		Checks:    map[Check]bool{CheckManifestHash: true, CheckSignature: true},
		CheckedAt: v.clock.Now(),
	}

	v.checkManifestHash(m, proof, result)
	if live != nil {
		result.Source = live.Name()
		result.Checks[CheckArtifactHashes] = true
		v.checkArtifacts(ctx, m, live, result)
	}
	v.checkSignature(proof, result)

	source := result.Source
	if source == "" {
		source = "none"
	}
	v.metrics.RecordIntegrityVerify(ctx, source, result.Valid)
	if !result.Valid {
		v.logger.Warn("integrity verification failed",
			zap.String("pack_id", m.PackID.String()),
			zap.String("source", source),
			zap.Strings("reasons", result.Messages()))
	}
	return result
}

func (v *Verifier) checkManifestHash(m *manifest.Manifest, proof *manifest.Proof, result *Result) {
	digest, _, err := m.Digest()
	if err != nil {
		result.Add(Reason{
			Check:   CheckManifestHash,
			Message: fmt.Sprintf("manifest cannot be canonicalized: %v", err),
		})
		return
	}
	result.ManifestSHA256 = digest.String()

	if proof.ManifestSHA256.IsEmpty() || !digest.Equal(proof.ManifestSHA256) {
		result.Add(Reason{
			Check:    CheckManifestHash,
			Expected: proof.ManifestSHA256.String(),
			Actual:   digest.String(),
			Message:  "manifest hash mismatch",
		})
	}
}

func (v *Verifier) checkArtifacts(ctx context.Context, m *manifest.Manifest, live LiveSource, result *Result) {
	hashes, err := live.ArtifactHashes(ctx, m.TenantID, m.Artifacts)
	if err != nil {
		result.Add(Reason{
			Check:   CheckArtifactHashes,
			Message: fmt.Sprintf("live source %s unavailable: %v", live.Name(), err),
		})
		return
	}

	for _, a := range m.Artifacts {
		result.ArtifactsChecked++
		current, ok := hashes[a.ID]
		if !ok {
			result.Add(Reason{
				Check:      CheckArtifactHashes,
				ArtifactID: a.ID.String(),
				Expected:   a.SHA256.String(),
				Message:    fmt.Sprintf("%s missing", a.ID),
			})
			continue
		}
		if !current.Equal(a.SHA256) {
			result.Add(Reason{
				Check:      CheckArtifactHashes,
				ArtifactID: a.ID.String(),
				Expected:   a.SHA256.String(),
				Actual:     current.String(),
				Message:    fmt.Sprintf("%s hash mismatch", a.ID),
			})
		}
	}
}

func (v *Verifier) checkSignature(proof *manifest.Proof, result *Result) {
	key := strings.TrimSpace(proof.PublicKeyPEM)
	if v.trustedKey != "" {
		if key != "" && key != v.trustedKey {
			result.Add(Reason{
				Check:   CheckSignature,
				Message: "proof public key differs from the trusted key",
			})
		}
		key = v.trustedKey
	}
	if key == "" {
		result.Add(Reason{Check: CheckSignature, Message: "no public key available to verify the signature"})
		return
	}

	sig, err := proof.Signature.Bytes()
	if err != nil || len(sig) == 0 {
		result.Add(Reason{Check: CheckSignature, Message: "signature is missing or not base64"})
		return
	}

	if err := signing.VerifySignature(proof.Algorithm, key, proof.ManifestSHA256.Bytes(), sig); err != nil {
		result.Add(Reason{
			Check:   CheckSignature,
			Message: fmt.Sprintf("signature verification failed: %v", err),
		})
	}
}
