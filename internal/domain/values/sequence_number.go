package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
)

// SequenceNumber is the insertion order assigned to an append-only record.
// It breaks ties between records that share a timestamp.
type SequenceNumber struct {
	value int64
}

// NewSequenceNumber validates a positive sequence number
func NewSequenceNumber(value int64) (SequenceNumber, error) {
	if value <= 0 {
		return SequenceNumber{}, errors.NewValidationError("INVALID_SEQUENCE",
			fmt.Sprintf("sequence number must be positive, got %d", value))
	}
	return SequenceNumber{value: value}, nil
}

// MustNewSequenceNumber panics on invalid input (for constants/tests)
func MustNewSequenceNumber(value int64) SequenceNumber {
	seq, err := NewSequenceNumber(value)
	if err != nil {
		panic(err)
	}
	return seq
}

func (s SequenceNumber) Value() int64 {
	return s.value
}

func (s SequenceNumber) String() string {
	return strconv.FormatInt(s.value, 10)
}

// IsZero reports an unassigned sequence (record not yet persisted)
func (s SequenceNumber) IsZero() bool {
	return s.value == 0
}

// Compare returns -1, 0, or 1
func (s SequenceNumber) Compare(other SequenceNumber) int {
	switch {
	case s.value < other.value:
		return -1
	case s.value > other.value:
		return 1
	default:
		return 0
	}
}

func (s SequenceNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func (s *SequenceNumber) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.value = v
	return nil
}

// DBValue implements driver.Valuer semantics without clashing with Value()
func (s SequenceNumber) DBValue() (driver.Value, error) {
	if s.value == 0 {
		return nil, nil
	}
	return s.value, nil
}

// Scan implements sql.Scanner
func (s *SequenceNumber) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		s.value = 0
	case int64:
		s.value = v
	case int32:
		s.value = int64(v)
	default:
		return fmt.Errorf("cannot scan %T into SequenceNumber", value)
	}
	return nil
}
