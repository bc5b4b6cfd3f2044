package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		check  func(error) bool
		status int
	}{
		{"not found", NewNotFoundError("pack"), IsNotFound, 404},
		{"unauthorized", NewUnauthorizedError("TOKEN_EXPIRED", "link invalid or expired"), IsUnauthorized, 401},
		{"conflict", NewConflictError("PACK_NOT_DRAFT", "pack is not a draft"), IsConflict, 409},
		{"integrity", NewIntegrityError("HASH_MISMATCH", "hash mismatch"), IsIntegrity, 422},
		{"upstream", NewUpstreamError("kms", "timeout"), IsUpstream, 502},
		{"rate limited", NewRateLimitError("slow down"), IsRateLimited, 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.Equal(t, tt.status, GetStatusCode(wrapped))
		})
	}
}

func TestAppErrorCause(t *testing.T) {
	cause := New("connection reset")
	err := NewUpstreamError("s3", "put object failed").WithCause(cause)

	assert.True(t, Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 500, GetStatusCode(cause))
}
