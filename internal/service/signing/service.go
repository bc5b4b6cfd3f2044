// Package signing signs manifest digests through the configured key manager.
package signing

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/metrics"
)

const serviceName = "key_manager"

// Service wraps a KeyManager with per-call timeouts, the default key and a
// public key cache.
type Service struct {
	keys    signing.KeyManager
	cfg     config.SigningConfig
	logger  *zap.Logger
	metrics *metrics.Registry

	mu         sync.RWMutex
	publicKeys map[string]string
}

func NewService(keys signing.KeyManager, cfg config.SigningConfig, logger *zap.Logger, m *metrics.Registry) *Service {
	return &Service{
		keys:       keys,
		cfg:        cfg,
		logger:     logger.With(zap.String("service", "signing")),
		metrics:    m,
		publicKeys: make(map[string]string),
	}
}

// DefaultKeyID returns the configured default key
func (s *Service) DefaultKeyID() string {
	return s.cfg.DefaultKeyID
}

// Algorithm resolves the configured algorithm of keyID
func (s *Service) Algorithm(keyID string) (signing.Algorithm, error) {
	name, ok := s.cfg.Algorithm(keyID)
	if !ok {
		return "", errors.NewValidationError("UNKNOWN_SIGNING_KEY", fmt.Sprintf("signing key %q is not configured", keyID))
	}
	alg, err := signing.ParseAlgorithm(name)
	if err != nil {
		return "", errors.NewInternalError("invalid signing key configuration").WithCause(err)
	}
	return alg, nil
}

// Sign signs digest with keyID, or the default key when keyID is empty
func (s *Service) Sign(ctx context.Context, digest values.HashValue, keyID string) (*signing.Result, error) {
	if digest.IsEmpty() {
		return nil, errors.NewValidationError("EMPTY_DIGEST", "digest is required")
	}
	if keyID == "" {
		keyID = s.cfg.DefaultKeyID
	}
	alg, err := s.Algorithm(keyID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	sig, err := s.keys.Sign(ctx, keyID, digest.Bytes(), alg)
	s.metrics.RecordSigning(ctx, float64(time.Since(start).Milliseconds()), keyID, err == nil)
	if err != nil {
		s.logger.Error("signing failed",
			zap.String("key_id", keyID),
			zap.String("digest", digest.Short()),
			zap.Error(err))
		return nil, errors.NewUpstreamError(serviceName, "sign failed").WithCause(err)
	}
	if len(sig) == 0 {
		return nil, errors.NewUpstreamError(serviceName, "empty signature returned")
	}

	return &signing.Result{
		SignatureBase64: base64.StdEncoding.EncodeToString(sig),
		KeyID:           keyID,
		Algorithm:       alg,
	}, nil
}

// PublicKeyPEM returns the PEM public key of keyID, cached after the first read
func (s *Service) PublicKeyPEM(ctx context.Context, keyID string) (string, error) {
	if keyID == "" {
		keyID = s.cfg.DefaultKeyID
	}

	s.mu.RLock()
	pem, ok := s.publicKeys[keyID]
	s.mu.RUnlock()
	if ok {
		return pem, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pem, err := s.keys.PublicKey(ctx, keyID)
	if err != nil {
		s.logger.Error("public key lookup failed", zap.String("key_id", keyID), zap.Error(err))
		return "", errors.NewUpstreamError(serviceName, "public key lookup failed").WithCause(err)
	}
	if _, err := signing.ParsePublicKeyPEM(pem); err != nil {
		return "", errors.NewUpstreamError(serviceName, "invalid public key returned").WithCause(err)
	}

	s.mu.Lock()
	s.publicKeys[keyID] = pem
	s.mu.Unlock()
	return pem, nil
}
