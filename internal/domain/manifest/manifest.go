// Package manifest defines the canonical, hashable description of a pack's
// evidence and the detached proof that signs it.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/catalog"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// SchemaVersion identifies the manifest layout
const SchemaVersion = "evidence-manifest/v1"

// Status is DRAFT for previews and FINAL for signed manifests
type Status string

const (
	StatusDraft Status = "DRAFT"
	StatusFinal Status = "FINAL"
)

// Evaluation markers
const (
	EvaluationComputed    = "COMPUTED"
	EvaluationNotComputed = "NOT_COMPUTED"
)

type ScopeDescriptor struct {
	Domain      string `json:"domain"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type ObligationDescriptor struct {
	ID    uuid.UUID `json:"id"`
	Code  string    `json:"code"`
	Title string    `json:"title"`
}

type ControlDescriptor struct {
	ID            uuid.UUID   `json:"id"`
	Code          string      `json:"code"`
	Title         string      `json:"title"`
	ObligationIDs []uuid.UUID `json:"obligation_ids"`
}

type RequirementDescriptor struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	ControlID    *uuid.UUID `json:"control_id"`
	ObligationID *uuid.UUID `json:"obligation_id"`
}

// ArtifactDescriptor freezes one artifact version. SHA256 is copied from the
// stored artifact row, never recomputed here.
type ArtifactDescriptor struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	Version        int              `json:"version"`
	SHA256         values.HashValue `json:"sha256"`
	SizeBytes      int64            `json:"size_bytes"`
	MediaType      string           `json:"media_type"`
	RequirementIDs []uuid.UUID      `json:"requirement_ids"`
	ControlIDs     []uuid.UUID      `json:"control_ids"`
	ApprovedAt     string           `json:"approved_at"`
}

// EvaluationSnapshot carries the readiness collaborator's output. When none
// exists, Computed is false and Status says so explicitly.
type EvaluationSnapshot struct {
	Computed           bool         `json:"computed"`
	Status             string       `json:"status"`
	ReadinessScore     values.Score `json:"readiness_score"`
	GapCount           int          `json:"gap_count"`
	ObligationsTotal   int          `json:"obligations_total"`
	ObligationsCovered int          `json:"obligations_covered"`
	ComputedAt         string       `json:"computed_at"`
}

// NotComputed is the explicit marker used when no evaluation exists
func NotComputed() EvaluationSnapshot {
	return EvaluationSnapshot{
		Computed:       false,
		Status:         EvaluationNotComputed,
		ReadinessScore: values.ZeroScore(),
	}
}

// SnapshotFromEvaluation converts a catalog evaluation, nil meaning not computed
func SnapshotFromEvaluation(e *catalog.Evaluation) EvaluationSnapshot {
	if e == nil {
		return NotComputed()
	}
	return EvaluationSnapshot{
		Computed:           true,
		Status:             EvaluationComputed,
		ReadinessScore:     e.ReadinessScore,
		GapCount:           e.GapCount,
		ObligationsTotal:   e.ObligationsTotal,
		ObligationsCovered: e.ObligationsCovered,
		ComputedAt:         canonical.FormatTime(e.ComputedAt),
	}
}

// Manifest is a pure value derived from a pack's artifact set
type Manifest struct {
	SchemaVersion string                  `json:"schema_version"`
	Status        Status                  `json:"status"`
	PackID        uuid.UUID               `json:"pack_id"`
	TenantID      uuid.UUID               `json:"tenant_id"`
	CreatedAt     string                  `json:"created_at"`
	Scope         ScopeDescriptor         `json:"scope"`
	Obligations   []ObligationDescriptor  `json:"obligations"`
	Controls      []ControlDescriptor     `json:"controls"`
	Requirements  []RequirementDescriptor `json:"evidence_requirements"`
	Artifacts     []ArtifactDescriptor    `json:"artifacts"`
	Evaluation    EvaluationSnapshot      `json:"evaluation"`
}

// NewScopeDescriptor formats a scope for hashing
func NewScopeDescriptor(domain string, start, end time.Time) ScopeDescriptor {
	return ScopeDescriptor{
		Domain:      domain,
		PeriodStart: canonical.FormatTime(start),
		PeriodEnd:   canonical.FormatTime(end),
	}
}

// Normalize sorts every list by id so the digest does not depend on listing order.
// Nil slices become empty so that absent and empty encode identically.
func (m *Manifest) Normalize() {
	if m.Obligations == nil {
		m.Obligations = []ObligationDescriptor{}
	}
	if m.Controls == nil {
		m.Controls = []ControlDescriptor{}
	}
	if m.Requirements == nil {
		m.Requirements = []RequirementDescriptor{}
	}
	if m.Artifacts == nil {
		m.Artifacts = []ArtifactDescriptor{}
	}

	sort.Slice(m.Obligations, func(i, j int) bool { return lessID(m.Obligations[i].ID, m.Obligations[j].ID) })
	sort.Slice(m.Requirements, func(i, j int) bool { return lessID(m.Requirements[i].ID, m.Requirements[j].ID) })

	sort.Slice(m.Controls, func(i, j int) bool { return lessID(m.Controls[i].ID, m.Controls[j].ID) })
	for i := range m.Controls {
		m.Controls[i].ObligationIDs = SortedIDs(m.Controls[i].ObligationIDs)
	}

	sort.Slice(m.Artifacts, func(i, j int) bool { return lessID(m.Artifacts[i].ID, m.Artifacts[j].ID) })
	for i := range m.Artifacts {
		m.Artifacts[i].RequirementIDs = SortedIDs(m.Artifacts[i].RequirementIDs)
		m.Artifacts[i].ControlIDs = SortedIDs(m.Artifacts[i].ControlIDs)
	}
}

// Canonical returns the canonical encoding of the normalized manifest
func (m *Manifest) Canonical() ([]byte, error) {
	m.Normalize()
	return canonical.Marshal(m)
}

// Digest canonicalizes and hashes the manifest
func (m *Manifest) Digest() (values.HashValue, []byte, error) {
	b, err := m.Canonical()
	if err != nil {
		return values.HashValue{}, nil, fmt.Errorf("canonicalizing manifest: %w", err)
	}
	return canonical.Digest(b), b, nil
}

// Artifact looks up a descriptor by id
func (m *Manifest) Artifact(id uuid.UUID) (ArtifactDescriptor, bool) {
	for _, a := range m.Artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return ArtifactDescriptor{}, false
}

// Parse decodes a stored manifest, rejecting fields this version does not know
func Parse(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema %q", m.SchemaVersion)
	}
	return &m, nil
}

// SortedIDs returns a sorted, de-duplicated, never-nil copy of ids
func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i], out[j]) })
	return out
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
