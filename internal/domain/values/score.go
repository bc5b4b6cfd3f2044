package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
)

// ScoreScale is the number of fractional digits every score is rendered with.
const ScoreScale int32 = 4

var (
	minScore = decimal.Zero
	maxScore = decimal.NewFromInt(100)
)

// Score is a fixed-point evaluation score in [0, 100]. Its canonical form is a
// string with exactly ScoreScale fractional digits, so hashed documents never
// depend on platform float formatting.
type Score struct {
	value decimal.Decimal
}

// NewScore builds a score from a decimal, rounding half away from zero to ScoreScale
func NewScore(d decimal.Decimal) (Score, error) {
	rounded := d.Round(ScoreScale)
	if rounded.LessThan(minScore) || rounded.GreaterThan(maxScore) {
		return Score{}, errors.NewValidationError("SCORE_OUT_OF_RANGE",
			fmt.Sprintf("score %s must be between 0 and 100", rounded.StringFixed(ScoreScale)))
	}
	return Score{value: rounded}, nil
}

// NewScoreFromFloat converts a collaborator-provided float score
func NewScoreFromFloat(f float64) (Score, error) {
	return NewScore(decimal.NewFromFloat(f))
}

// NewScoreFromString parses a decimal string such as "87.5"
func NewScoreFromString(s string) (Score, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Score{}, errors.NewValidationError("INVALID_SCORE", "score must be a decimal number").WithCause(err)
	}
	return NewScore(d)
}

// ZeroScore returns 0.0000
func ZeroScore() Score {
	return Score{value: decimal.Zero}
}

// Canonical returns the fixed representation, e.g. "87.5000"
func (s Score) Canonical() string {
	return s.value.StringFixed(ScoreScale)
}

func (s Score) String() string {
	return s.Canonical()
}

func (s Score) Decimal() decimal.Decimal {
	return s.value
}

func (s Score) Equal(other Score) bool {
	return s.value.Equal(other.value)
}

// MarshalJSON encodes the score as a JSON string
func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Canonical())
}

func (s *Score) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("score must be a JSON string: %w", err)
	}
	parsed, err := NewScoreFromString(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Score) Value() (driver.Value, error) {
	return s.Canonical(), nil
}

func (s *Score) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = ZeroScore()
		return nil
	case string:
		parsed, err := NewScoreFromString(v)
		if err != nil {
			return err
		}
		*s = parsed
	case []byte:
		parsed, err := NewScoreFromString(string(v))
		if err != nil {
			return err
		}
		*s = parsed
	case float64:
		parsed, err := NewScoreFromFloat(v)
		if err != nil {
			return err
		}
		*s = parsed
	default:
		return fmt.Errorf("cannot scan %T into Score", value)
	}
	return nil
}
