package manifest

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// Summary is the human-oriented overview written next to the manifest
type Summary struct {
	PackID           uuid.UUID          `json:"pack_id"`
	PackName         string             `json:"pack_name"`
	Scope            ScopeDescriptor    `json:"scope"`
	ManifestSHA256   values.HashValue   `json:"manifest_sha256"`
	ArtifactCount    int                `json:"artifact_count"`
	TotalBytes       int64              `json:"total_bytes"`
	ObligationCount  int                `json:"obligation_count"`
	ControlCount     int                `json:"control_count"`
	RequirementCount int                `json:"requirement_count"`
	UncoveredReqs    []uuid.UUID        `json:"uncovered_requirement_ids"`
	Evaluation       EvaluationSnapshot `json:"evaluation"`
	GeneratedAt      string             `json:"generated_at"`
}

// Summarize derives a summary from a manifest
func Summarize(m *Manifest, packName string, digest values.HashValue, now time.Time) *Summary {
	covered := make(map[uuid.UUID]bool)
	var total int64
	for _, a := range m.Artifacts {
		total += a.SizeBytes
		for _, r := range a.RequirementIDs {
			covered[r] = true
		}
	}

	uncovered := make([]uuid.UUID, 0)
	for _, r := range m.Requirements {
		if !covered[r.ID] {
			uncovered = append(uncovered, r.ID)
		}
	}

	return &Summary{
		PackID:           m.PackID,
		PackName:         packName,
		Scope:            m.Scope,
		ManifestSHA256:   digest,
		ArtifactCount:    len(m.Artifacts),
		TotalBytes:       total,
		ObligationCount:  len(m.Obligations),
		ControlCount:     len(m.Controls),
		RequirementCount: len(m.Requirements),
		UncoveredReqs:    SortedIDs(uncovered),
		Evaluation:       m.Evaluation,
		GeneratedAt:      canonical.FormatTime(now),
	}
}
