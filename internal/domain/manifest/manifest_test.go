package manifest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/catalog"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

var (
	a1  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	a2  = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	r1  = uuid.MustParse("00000000-0000-0000-0000-0000000000f1")
	r2  = uuid.MustParse("00000000-0000-0000-0000-0000000000f2")
	ob1 = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
)

func sampleManifest(artifactOrder []uuid.UUID, reqOrder []uuid.UUID) *Manifest {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	descriptors := map[uuid.UUID]ArtifactDescriptor{
		a1: {ID: a1, Name: "a1.pdf", Version: 1, SHA256: values.ComputeHashValue([]byte("H1")), SizeBytes: 10, MediaType: "application/pdf", RequirementIDs: reqOrder},
		a2: {ID: a2, Name: "a2.pdf", Version: 2, SHA256: values.ComputeHashValue([]byte("H2")), SizeBytes: 20, MediaType: "application/pdf"},
	}

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		Status:        StatusFinal,
		PackID:        uuid.MustParse("00000000-0000-0000-0000-0000000000c1"),
		TenantID:      uuid.MustParse("00000000-0000-0000-0000-0000000000d1"),
		CreatedAt:     canonical.FormatTime(start),
		Scope:         NewScopeDescriptor("privacy", start, start.AddDate(0, 3, 0)),
		Obligations:   []ObligationDescriptor{{ID: ob1, Code: "GDPR-30", Title: "Records of processing"}},
		Requirements:  []RequirementDescriptor{{ID: r2, Title: "DPIA"}, {ID: r1, Title: "RoPA"}},
		Evaluation:    NotComputed(),
	}
	for _, id := range artifactOrder {
		m.Artifacts = append(m.Artifacts, descriptors[id])
	}
	return m
}

func TestDigest_IndependentOfListingOrder(t *testing.T) {
	d1, b1, err := sampleManifest([]uuid.UUID{a1, a2}, []uuid.UUID{r1, r2}).Digest()
	require.NoError(t, err)
	d2, b2, err := sampleManifest([]uuid.UUID{a2, a1}, []uuid.UUID{r2, r1, r2}).Digest()
	require.NoError(t, err)

	assert.Equal(t, string(b1), string(b2))
	assert.True(t, d1.Equal(d2))
}

func TestDigest_ChangesWithArtifactHash(t *testing.T) {
	m := sampleManifest([]uuid.UUID{a1, a2}, nil)
	before, _, err := m.Digest()
	require.NoError(t, err)

	m.Artifacts[1].SHA256 = values.ComputeHashValue([]byte("H2-tampered"))
	after, _, err := m.Digest()
	require.NoError(t, err)

	assert.False(t, before.Equal(after))
}

func TestParse_RoundTripPreservesDigest(t *testing.T) {
	m := sampleManifest([]uuid.UUID{a1, a2}, []uuid.UUID{r1})
	digest, b, err := m.Digest()
	require.NoError(t, err)

	parsed, err := Parse(b)
	require.NoError(t, err)
	again, _, err := parsed.Digest()
	require.NoError(t, err)
	assert.True(t, digest.Equal(again))

	_, ok := parsed.Artifact(a2)
	assert.True(t, ok)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, b, err := sampleManifest([]uuid.UUID{a1}, nil).Digest()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	raw["extra"] = "field"
	tampered, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Parse(tampered)
	assert.Error(t, err)
}

func TestEvaluationSnapshot(t *testing.T) {
	nc := SnapshotFromEvaluation(nil)
	assert.False(t, nc.Computed)
	assert.Equal(t, EvaluationNotComputed, nc.Status)
	assert.Equal(t, "0.0000", nc.ReadinessScore.Canonical())

	score, err := values.NewScoreFromString("72.5")
	require.NoError(t, err)
	computed := SnapshotFromEvaluation(&catalog.Evaluation{
		ReadinessScore:   score,
		GapCount:         3,
		ObligationsTotal: 10,
		ComputedAt:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, computed.Computed)
	assert.Equal(t, EvaluationComputed, computed.Status)

	m := sampleManifest([]uuid.UUID{a1}, nil)
	m.Evaluation = computed
	b, err := m.Canonical()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"readiness_score":"72.5000"`)
}

func TestSummarize(t *testing.T) {
	m := sampleManifest([]uuid.UUID{a1, a2}, []uuid.UUID{r1})
	m.Normalize()
	digest, _, err := m.Digest()
	require.NoError(t, err)

	s := Summarize(m, "Q1 pack", digest, time.Now())
	assert.Equal(t, 2, s.ArtifactCount)
	assert.Equal(t, int64(30), s.TotalBytes)
	assert.Equal(t, []uuid.UUID{r2}, s.UncoveredReqs)
}
