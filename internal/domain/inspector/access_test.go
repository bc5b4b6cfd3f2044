package inspector

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestAccess(t *testing.T, ttl time.Duration) *Access {
	t.Helper()
	_, hash, err := NewToken()
	require.NoError(t, err)
	a, err := NewAccess(uuid.New(), uuid.New(), hash,
		Identity{Name: "Ada", Email: "ada@regulator.example", Organization: "DPA"},
		DefaultPermissions(), ttl, uuid.New(), now)
	require.NoError(t, err)
	return a
}

func TestNewToken(t *testing.T) {
	tok1, h1, err := NewToken()
	require.NoError(t, err)
	tok2, h2, err := NewToken()
	require.NoError(t, err)

	assert.NotEqual(t, tok1, tok2)
	assert.False(t, h1.Equal(h2))
	assert.GreaterOrEqual(t, len(tok1), 43)
	assert.True(t, HashToken(tok1).Equal(h1))
	assert.NotContains(t, tok1, "=")
}

func TestPermissions(t *testing.T) {
	def := DefaultPermissions()
	assert.NoError(t, def.Validate())
	assert.True(t, def.Allows(CapabilityDownloadArtifacts))
	assert.False(t, def.Allows(CapabilityExportReport))
	assert.False(t, def.Allows(Capability("delete_everything")))

	assert.Error(t, Permissions{CanDownloadArtifacts: true}.Validate())
}

func TestAccess_Check(t *testing.T) {
	a := newTestAccess(t, time.Hour)
	assert.Equal(t, ReasonOK, a.Check(now))
	assert.Equal(t, ReasonOK, a.Check(now.Add(59*time.Minute)))
	assert.Equal(t, ReasonExpired, a.Check(now.Add(time.Hour)))

	a.IsActive = false
	assert.Equal(t, ReasonInactive, a.Check(now))

	b := newTestAccess(t, time.Hour)
	assert.True(t, b.Revoke("done", uuid.New(), now))
	assert.Equal(t, ReasonRevoked, b.Check(now))
}

func TestAccess_RevokeIsIdempotent(t *testing.T) {
	a := newTestAccess(t, time.Hour)
	assert.True(t, a.Revoke("first", uuid.New(), now))
	firstAt := *a.RevokedAt

	assert.False(t, a.Revoke("second", uuid.New(), now.Add(time.Minute)))
	assert.Equal(t, "first", a.RevocationReason)
	assert.Equal(t, firstAt, *a.RevokedAt)
}

func TestAccess_ExtendFromCurrentExpiry(t *testing.T) {
	a := newTestAccess(t, 48*time.Hour)

	// extension granted while far from expiry must not shorten it
	require.NoError(t, a.Extend(24*time.Hour, 0, now.Add(time.Hour)))
	assert.Equal(t, now.Add(72*time.Hour), a.ExpiresAt)

	assert.Error(t, a.Extend(0, 0, now))

	err := a.Extend(24*time.Hour, 80*time.Hour, now)
	assert.Error(t, err)
	assert.Equal(t, now.Add(72*time.Hour), a.ExpiresAt)

	a.Revoke("x", uuid.New(), now)
	assert.True(t, errors.IsConflict(a.Extend(time.Hour, 0, now)))
}

func TestNewAccess_Validation(t *testing.T) {
	_, hash, err := NewToken()
	require.NoError(t, err)
	id := Identity{Name: "x", Email: "x@example.com", Organization: "o"}

	_, err = NewAccess(uuid.New(), uuid.New(), hash, id, Permissions{}, time.Hour, uuid.New(), now)
	assert.Error(t, err)

	_, err = NewAccess(uuid.New(), uuid.New(), hash, id, DefaultPermissions(), 0, uuid.New(), now)
	assert.Error(t, err)
}
