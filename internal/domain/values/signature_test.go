package values

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignature(t *testing.T) {
	raw := []byte{0x30, 0x45, 0x02, 0x20, 0x01}
	encoded := base64.StdEncoding.EncodeToString(raw)

	sig, err := NewSignature(encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, sig.String())

	decoded, err := sig.Bytes()
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = NewSignature("")
	assert.Error(t, err)

	_, err = NewSignature("not*base64")
	assert.Error(t, err)
}

func TestNewSignatureFromBytes(t *testing.T) {
	sig, err := NewSignatureFromBytes([]byte("signature-bytes"))
	require.NoError(t, err)
	assert.False(t, sig.IsEmpty())
	assert.Equal(t, "sig:c2lnbmF0...", sig.Format())

	_, err = NewSignatureFromBytes(nil)
	assert.Error(t, err)

	assert.Equal(t, "<unsigned>", Signature{}.Format())
}

func TestSignature_Scan(t *testing.T) {
	var sig Signature
	require.NoError(t, sig.Scan("AQID"))
	assert.Equal(t, "AQID", sig.String())

	require.NoError(t, sig.Scan(nil))
	assert.True(t, sig.IsEmpty())

	v, err := sig.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
