package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceNumber(t *testing.T) {
	_, err := NewSequenceNumber(0)
	assert.Error(t, err)

	a := MustNewSequenceNumber(7)
	b := MustNewSequenceNumber(9)
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, "7", a.String())

	var scanned SequenceNumber
	require.NoError(t, scanned.Scan(int64(9)))
	assert.Equal(t, 0, scanned.Compare(b))
	assert.True(t, SequenceNumber{}.IsZero())
}
