package custody

import (
	"fmt"
	"sort"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// BreakType categorizes the type of chain break
type BreakType string

const (
	BreakTypeHashMismatch     BreakType = "hash_mismatch"
	BreakTypePreviousMismatch BreakType = "previous_mismatch"
	BreakTypeSequenceRegress  BreakType = "sequence_regress"
	BreakTypeTimestampReverse BreakType = "timestamp_reverse"
)

// ChainBreak represents a detected break in an artifact's custody chain
type ChainBreak struct {
	EventID      string    `json:"event_id"`
	Sequence     int64     `json:"sequence"`
	BreakType    BreakType `json:"break_type"`
	ExpectedHash string    `json:"expected_hash,omitempty"`
	ActualHash   string    `json:"actual_hash,omitempty"`
	Description  string    `json:"description"`
}

// ChainReport is the outcome of VerifyChain
type ChainReport struct {
	Valid          bool         `json:"valid"`
	EventsVerified int          `json:"events_verified"`
	HeadHash       string       `json:"head_hash,omitempty"`
	Breaks         []ChainBreak `json:"breaks,omitempty"`
}

// VerifyChain walks one artifact's events in insertion order and reports
// every break instead of stopping at the first.
func VerifyChain(events []*Event) ChainReport {
	report := ChainReport{Valid: true}
	if len(events) == 0 {
		return report
	}

	ordered := make([]*Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence.Compare(ordered[j].Sequence) < 0
	})

	var previous values.HashValue
	for i, e := range ordered {
		report.EventsVerified++

		if i > 0 {
			prior := ordered[i-1]
			if e.Sequence.Compare(prior.Sequence) <= 0 {
				report.add(ChainBreak{
					EventID:     e.ID.String(),
					Sequence:    e.Sequence.Value(),
					BreakType:   BreakTypeSequenceRegress,
					Description: fmt.Sprintf("sequence %d does not follow %d", e.Sequence.Value(), prior.Sequence.Value()),
				})
			}
			if e.OccurredAt.Before(prior.OccurredAt) {
				report.add(ChainBreak{
					EventID:     e.ID.String(),
					Sequence:    e.Sequence.Value(),
					BreakType:   BreakTypeTimestampReverse,
					Description: "event occurred before its predecessor",
				})
			}
		}

		if !e.PreviousHash.Equal(previous) {
			report.add(ChainBreak{
				EventID:      e.ID.String(),
				Sequence:     e.Sequence.Value(),
				BreakType:    BreakTypePreviousMismatch,
				ExpectedHash: previous.String(),
				ActualHash:   e.PreviousHash.String(),
				Description:  "previous hash does not match the preceding event",
			})
		}

		recomputed, err := e.ComputeHash(e.PreviousHash)
		if err != nil || !recomputed.Equal(e.EventHash) {
			report.add(ChainBreak{
				EventID:      e.ID.String(),
				Sequence:     e.Sequence.Value(),
				BreakType:    BreakTypeHashMismatch,
				ExpectedHash: recomputed.String(),
				ActualHash:   e.EventHash.String(),
				Description:  "stored event hash does not match its content",
			})
		}

		previous = e.EventHash
	}

	report.HeadHash = previous.String()
	return report
}

func (r *ChainReport) add(b ChainBreak) {
	r.Valid = false
	r.Breaks = append(r.Breaks, b)
}
