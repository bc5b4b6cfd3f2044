package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/evidence-vault/internal/domain/signing"
)

// KeyManager mock
type KeyManager struct {
	mock.Mock
}

var _ signing.KeyManager = (*KeyManager)(nil)

func (m *KeyManager) Sign(ctx context.Context, keyID string, digest []byte, alg signing.Algorithm) ([]byte, error) {
	args := m.Called(ctx, keyID, digest, alg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *KeyManager) PublicKey(ctx context.Context, keyID string) (string, error) {
	args := m.Called(ctx, keyID)
	return args.String(0), args.Error(1)
}
