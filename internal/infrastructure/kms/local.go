package kms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
)

// ErrUnknownKey is returned for key ids the manager does not hold
var ErrUnknownKey = errors.New("kms: unknown key")

type localKey struct {
	signer    crypto.Signer
	algorithm signing.Algorithm
}

// LocalKeyManager keeps ephemeral in-process keys. Development and tests only.
type LocalKeyManager struct {
	mu   sync.RWMutex
	keys map[string]localKey
}

var _ signing.KeyManager = (*LocalKeyManager)(nil)

func NewLocalKeyManager() *LocalKeyManager {
	return &LocalKeyManager{keys: map[string]localKey{}}
}

// GenerateKey creates a fresh key: P-256 for ECDSA, RSA-3072 for RSA-PSS
func (m *LocalKeyManager) GenerateKey(keyID string, alg signing.Algorithm) error {
	var (
		signer crypto.Signer
		err    error
	)
	switch alg {
	case signing.AlgorithmECDSASHA256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case signing.AlgorithmRSAPSSSHA256:
		signer, err = rsa.GenerateKey(rand.Reader, 3072)
	default:
		return fmt.Errorf("%w: %q", signing.ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return fmt.Errorf("generating %s key: %w", alg, err)
	}
	return m.AddKey(keyID, signer, alg)
}

// AddKey registers an existing signer
func (m *LocalKeyManager) AddKey(keyID string, signer crypto.Signer, alg signing.Algorithm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = localKey{signer: signer, algorithm: alg}
	return nil
}

func (m *LocalKeyManager) Sign(ctx context.Context, keyID string, digest []byte, alg signing.Algorithm) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := m.key(keyID)
	if err != nil {
		return nil, err
	}
	if key.algorithm != alg {
		return nil, fmt.Errorf("%w: key %s is %s, not %s", signing.ErrUnsupportedAlgorithm, keyID, key.algorithm, alg)
	}

	var opts crypto.SignerOpts = crypto.SHA256
	if alg == signing.AlgorithmRSAPSSSHA256 {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	}
	// ecdsa.PrivateKey.Sign returns an ASN.1 DER signature, matching KMS
	return key.signer.Sign(rand.Reader, digest, opts)
}

func (m *LocalKeyManager) PublicKey(_ context.Context, keyID string) (string, error) {
	key, err := m.key(keyID)
	if err != nil {
		return "", err
	}
	return signing.EncodePublicKeyPEM(key.signer.Public())
}

func (m *LocalKeyManager) key(keyID string) (localKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[keyID]
	if !ok {
		return localKey{}, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	return key, nil
}

// NewKeyManagerFromConfig builds the configured key manager. Local keys are
// refused in production.
func NewKeyManagerFromConfig(ctx context.Context, cfg config.SigningConfig, environment string, logger *zap.Logger) (signing.KeyManager, error) {
	switch cfg.Provider {
	case "aws_kms":
		return NewAWSKeyManager(ctx, cfg, logger)
	case "local":
		if environment == "production" {
			return nil, errors.New("local key manager is not allowed in production")
		}
		m := NewLocalKeyManager()
		for _, k := range cfg.Keys {
			alg, err := signing.ParseAlgorithm(k.Algorithm)
			if err != nil {
				return nil, err
			}
			if err := m.GenerateKey(k.ID, alg); err != nil {
				return nil, err
			}
		}
		logger.Warn("using ephemeral local signing keys", zap.Int("keys", len(cfg.Keys)))
		return m, nil
	default:
		return nil, fmt.Errorf("unknown signing provider %q", cfg.Provider)
	}
}
