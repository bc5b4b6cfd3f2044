package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature_RoundTrip(t *testing.T) {
	digest := sha256.Sum256([]byte("manifest"))

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecSig, err := ecdsa.SignASN1(rand.Reader, ecKey, digest[:])
	require.NoError(t, err)
	ecPEM, err := EncodePublicKeyPEM(&ecKey.PublicKey)
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaSig, err := rsa.SignPSS(rand.Reader, rsaKey, crypto.SHA256, digest[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	require.NoError(t, err)
	rsaPEM, err := EncodePublicKeyPEM(&rsaKey.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		alg  Algorithm
		pem  string
		sig  []byte
	}{
		{"ecdsa", AlgorithmECDSASHA256, ecPEM, ecSig},
		{"rsa-pss", AlgorithmRSAPSSSHA256, rsaPEM, rsaSig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, VerifySignature(tt.alg, tt.pem, digest[:], tt.sig))

			for _, i := range []int{0, len(digest) / 2, len(digest) - 1} {
				tampered := append([]byte(nil), digest[:]...)
				tampered[i] ^= 0x01
				assert.ErrorIs(t, VerifySignature(tt.alg, tt.pem, tampered, tt.sig), ErrInvalidSignature)
			}

			badSig := append([]byte(nil), tt.sig...)
			badSig[len(badSig)-1] ^= 0x01
			assert.Error(t, VerifySignature(tt.alg, tt.pem, digest[:], badSig))
		})
	}

	t.Run("algorithm and key mismatch", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(AlgorithmRSAPSSSHA256, ecPEM, digest[:], ecSig), ErrInvalidPublicKey)
	})
}

func TestVerifySignature_InvalidInput(t *testing.T) {
	assert.ErrorIs(t, VerifySignature(AlgorithmECDSASHA256, "x", []byte("short"), nil), ErrInvalidDigest)

	digest := sha256.Sum256(nil)
	assert.ErrorIs(t, VerifySignature(AlgorithmECDSASHA256, "not pem", digest[:], nil), ErrInvalidPublicKey)
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("ECDSA_SHA256")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmECDSASHA256, alg)

	_, err = ParseAlgorithm("HS256")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
