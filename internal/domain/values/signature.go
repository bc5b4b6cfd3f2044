package values

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
)

// Signature is a detached asymmetric signature, base64 (standard) encoded.
// Length depends on the algorithm so only the encoding is validated.
type Signature struct {
	signature string
}

// NewSignature validates a base64 encoded signature
func NewSignature(signature string) (Signature, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return Signature{}, errors.NewValidationError("EMPTY_SIGNATURE", "signature cannot be empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return Signature{}, errors.NewValidationError("INVALID_SIGNATURE_ENCODING",
			"signature must be valid base64").WithCause(err)
	}
	if len(decoded) == 0 {
		return Signature{}, errors.NewValidationError("EMPTY_SIGNATURE", "signature cannot be empty")
	}

	return Signature{signature: signature}, nil
}

// NewSignatureFromBytes encodes raw signature bytes
func NewSignatureFromBytes(b []byte) (Signature, error) {
	if len(b) == 0 {
		return Signature{}, errors.NewValidationError("EMPTY_SIGNATURE_BYTES", "signature bytes cannot be empty")
	}
	return Signature{signature: base64.StdEncoding.EncodeToString(b)}, nil
}

// String returns the base64 form
func (s Signature) String() string {
	return s.signature
}

// Bytes returns the raw signature bytes
func (s Signature) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.signature)
}

func (s Signature) IsEmpty() bool {
	return s.signature == ""
}

func (s Signature) Equal(other Signature) bool {
	return s.signature == other.signature
}

// Truncate returns the first 8 characters for display purposes
func (s Signature) Truncate() string {
	if len(s.signature) <= 8 {
		return s.signature
	}
	return s.signature[:8] + "..."
}

// Format returns a formatted string for logging
func (s Signature) Format() string {
	if s.IsEmpty() {
		return "<unsigned>"
	}
	return fmt.Sprintf("sig:%s", s.Truncate())
}

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.signature)
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = Signature{}
		return nil
	}
	sig, err := NewSignature(str)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

// Value implements driver.Valuer for database storage
func (s Signature) Value() (driver.Value, error) {
	if s.signature == "" {
		return nil, nil
	}
	return s.signature, nil
}

// Scan implements sql.Scanner for database retrieval
func (s *Signature) Scan(value interface{}) error {
	if value == nil {
		*s = Signature{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Signature", value)
	}

	sig, err := NewSignature(str)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}
