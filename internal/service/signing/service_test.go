package signing

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/kms"
)

func testConfig() config.SigningConfig {
	return config.SigningConfig{
		Provider:     "local",
		DefaultKeyID: "ec",
		Keys: []config.SigningKeyConfig{
			{ID: "ec", Algorithm: "ECDSA_SHA256"},
		},
		Timeout: time.Second,
	}
}

type countingKeys struct {
	signing.KeyManager
	publicKeyCalls int
}

func (c *countingKeys) PublicKey(ctx context.Context, keyID string) (string, error) {
	c.publicKeyCalls++
	return c.KeyManager.PublicKey(ctx, keyID)
}

type slowKeys struct{}

func (slowKeys) Sign(ctx context.Context, _ string, _ []byte, _ signing.Algorithm) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowKeys) PublicKey(context.Context, string) (string, error) {
	return "", errors.New("unavailable")
}

func newLocalService(t *testing.T) (*Service, *countingKeys) {
	t.Helper()
	local := kms.NewLocalKeyManager()
	require.NoError(t, local.GenerateKey("ec", signing.AlgorithmECDSASHA256))
	keys := &countingKeys{KeyManager: local}
	return NewService(keys, testConfig(), zaptest.NewLogger(t), nil), keys
}

func TestService_SignDefaultKeyVerifies(t *testing.T) {
	svc, _ := newLocalService(t)
	ctx := context.Background()
	digest := values.ComputeHashValue([]byte(`{"a":1}`))

	res, err := svc.Sign(ctx, digest, "")
	require.NoError(t, err)
	assert.Equal(t, "ec", res.KeyID)
	assert.Equal(t, signing.AlgorithmECDSASHA256, res.Algorithm)

	pem, err := svc.PublicKeyPEM(ctx, res.KeyID)
	require.NoError(t, err)

	sig, err := base64.StdEncoding.DecodeString(res.SignatureBase64)
	require.NoError(t, err)
	assert.NoError(t, signing.VerifySignature(res.Algorithm, pem, digest.Bytes(), sig))
}

func TestService_PublicKeyCached(t *testing.T) {
	svc, keys := newLocalService(t)
	ctx := context.Background()

	first, err := svc.PublicKeyPEM(ctx, "ec")
	require.NoError(t, err)
	second, err := svc.PublicKeyPEM(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, keys.publicKeyCalls)
}

func TestService_UnknownKey(t *testing.T) {
	svc, _ := newLocalService(t)
	_, err := svc.Sign(context.Background(), values.ComputeHashValue(nil), "other")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestService_TimeoutIsUpstreamFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	svc := NewService(slowKeys{}, cfg, zaptest.NewLogger(t), nil)

	_, err := svc.Sign(context.Background(), values.ComputeHashValue([]byte("x")), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = svc.PublicKeyPEM(context.Background(), "ec")
	assert.True(t, apperrors.IsUpstream(err))
}
