package values

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
)

// HashValue is a SHA-256 digest in lowercase hex (64 characters)
type HashValue struct {
	hash string
}

// NewHashValue validates and normalizes a hex encoded SHA-256 digest
func NewHashValue(hash string) (HashValue, error) {
	normalized := strings.ToLower(strings.TrimSpace(hash))
	if normalized == "" {
		return HashValue{}, errors.NewValidationError("EMPTY_HASH", "hash value cannot be empty")
	}

	if len(normalized) != sha256.Size*2 {
		return HashValue{}, errors.NewValidationError("INVALID_HASH_FORMAT",
			fmt.Sprintf("hash must be %d hex characters, got %d", sha256.Size*2, len(normalized)))
	}

	if _, err := hex.DecodeString(normalized); err != nil {
		return HashValue{}, errors.NewValidationError("INVALID_HASH_FORMAT",
			"hash must be hex encoded").WithCause(err)
	}

	return HashValue{hash: normalized}, nil
}

// NewHashValueFromBytes wraps a raw 32-byte digest
func NewHashValueFromBytes(b []byte) (HashValue, error) {
	if len(b) == 0 {
		return HashValue{}, errors.NewValidationError("EMPTY_HASH_BYTES", "hash bytes cannot be empty")
	}
	if len(b) != sha256.Size {
		return HashValue{}, errors.NewValidationError("INVALID_HASH_LENGTH",
			fmt.Sprintf("hash must be %d bytes", sha256.Size))
	}
	return HashValue{hash: hex.EncodeToString(b)}, nil
}

// MustNewHashValue panics on invalid input (for constants/tests)
func MustNewHashValue(hash string) HashValue {
	h, err := NewHashValue(hash)
	if err != nil {
		panic(err)
	}
	return h
}

// ComputeHashValue hashes data with SHA-256
func ComputeHashValue(data []byte) HashValue {
	sum := sha256.Sum256(data)
	return HashValue{hash: hex.EncodeToString(sum[:])}
}

// HashReader streams r through SHA-256 and returns the digest and byte count
func HashReader(r io.Reader) (HashValue, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return HashValue{}, n, fmt.Errorf("hashing stream: %w", err)
	}
	return HashValue{hash: hex.EncodeToString(h.Sum(nil))}, n, nil
}

func (h HashValue) String() string {
	return h.hash
}

// Bytes returns the raw digest
func (h HashValue) Bytes() []byte {
	b, _ := hex.DecodeString(h.hash)
	return b
}

func (h HashValue) IsEmpty() bool {
	return h.hash == ""
}

// Equal compares two digests in constant time
func (h HashValue) Equal(other HashValue) bool {
	if len(h.hash) != len(other.hash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h.hash), []byte(other.hash)) == 1
}

// Short returns the first 12 characters for logs and fingerprints
func (h HashValue) Short() string {
	if len(h.hash) <= 12 {
		return h.hash
	}
	return h.hash[:12]
}

func (h HashValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.hash)
}

func (h *HashValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = HashValue{}
		return nil
	}
	parsed, err := NewHashValue(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Value implements driver.Valuer for database storage
func (h HashValue) Value() (driver.Value, error) {
	if h.hash == "" {
		return nil, nil
	}
	return h.hash, nil
}

// Scan implements sql.Scanner for database retrieval
func (h *HashValue) Scan(value interface{}) error {
	if value == nil {
		*h = HashValue{}
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into HashValue", value)
	}

	parsed, err := NewHashValue(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
