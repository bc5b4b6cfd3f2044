// Package mocks provides in-memory repository fakes and testify mocks for
// service tests.
package mocks

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/catalog"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
	"github.com/davidleathers/evidence-vault/internal/domain/inspector"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Snapshots runs callbacks inline. Memory stores are already consistent.
type Snapshots struct {
	Calls int
}

func (s *Snapshots) WithSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	s.Calls++
	return fn(ctx)
}

func (s *Snapshots) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CatalogStore implements catalog.Reader
type CatalogStore struct {
	mu           sync.RWMutex
	obligations  map[uuid.UUID]catalog.Obligation
	controls     map[uuid.UUID]catalog.Control
	requirements map[uuid.UUID]catalog.Requirement
	evaluations  []catalog.Evaluation
}

var _ catalog.Reader = (*CatalogStore)(nil)

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		obligations:  map[uuid.UUID]catalog.Obligation{},
		controls:     map[uuid.UUID]catalog.Control{},
		requirements: map[uuid.UUID]catalog.Requirement{},
	}
}

func (s *CatalogStore) AddObligation(o catalog.Obligation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obligations[o.ID] = o
}

func (s *CatalogStore) AddControl(c catalog.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[c.ID] = c
}

func (s *CatalogStore) AddRequirement(r catalog.Requirement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requirements[r.ID] = r
}

func (s *CatalogStore) AddEvaluation(e catalog.Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, e)
}

func (s *CatalogStore) ListObligations(_ context.Context, tenantID uuid.UUID, scope catalog.Scope) ([]catalog.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[uuid.UUID]bool
	if scope.ObligationIDs != nil {
		wanted = idSet(scope.ObligationIDs)
	}
	var out []catalog.Obligation
	for _, o := range s.obligations {
		if o.TenantID != tenantID || (scope.Domain != "" && o.Domain != scope.Domain) {
			continue
		}
		if wanted != nil && !wanted[o.ID] {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *CatalogStore) ListControls(_ context.Context, tenantID uuid.UUID, obligationIDs []uuid.UUID) ([]catalog.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlsFor(tenantID, idSet(obligationIDs)), nil
}

func (s *CatalogStore) controlsFor(tenantID uuid.UUID, obligations map[uuid.UUID]bool) []catalog.Control {
	var out []catalog.Control
	for _, c := range s.controls {
		if c.TenantID != tenantID {
			continue
		}
		for _, o := range c.ObligationIDs {
			if obligations[o] {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func (s *CatalogStore) ListRequirements(_ context.Context, tenantID uuid.UUID, obligationIDs []uuid.UUID) ([]catalog.Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requirementsFor(tenantID, idSet(obligationIDs)), nil
}

func (s *CatalogStore) requirementsFor(tenantID uuid.UUID, obligations map[uuid.UUID]bool) []catalog.Requirement {
	controls := map[uuid.UUID]bool{}
	for _, c := range s.controlsFor(tenantID, obligations) {
		controls[c.ID] = true
	}
	var out []catalog.Requirement
	for _, r := range s.requirements {
		if r.TenantID != tenantID {
			continue
		}
		if (r.ObligationID != nil && obligations[*r.ObligationID]) || (r.ControlID != nil && controls[*r.ControlID]) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func (s *CatalogStore) LatestEvaluation(_ context.Context, tenantID uuid.UUID, domain string) (*catalog.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *catalog.Evaluation
	for i := range s.evaluations {
		e := s.evaluations[i]
		if e.TenantID != tenantID || e.Domain != domain {
			continue
		}
		if latest == nil || e.ComputedAt.After(latest.ComputedAt) {
			cp := e
			latest = &cp
		}
	}
	return latest, nil
}

// ArtifactStore implements evidence.Repository. Obligation filters resolve
// through Catalog the same way the SQL does.
type ArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[uuid.UUID]*evidence.Artifact
	links     map[string]evidence.Link
	Catalog   *CatalogStore
}

var _ evidence.Repository = (*ArtifactStore)(nil)

func NewArtifactStore(c *CatalogStore) *ArtifactStore {
	return &ArtifactStore{
		artifacts: map[uuid.UUID]*evidence.Artifact{},
		links:     map[string]evidence.Link{},
		Catalog:   c,
	}
}

func linkKey(l evidence.Link) string {
	return fmt.Sprintf("%s/%s/%s", l.ArtifactID, l.Target, l.TargetID)
}

func copyArtifact(a *evidence.Artifact) *evidence.Artifact {
	cp := *a
	cp.RestoreApproval(a.Approval())
	return &cp
}

func (s *ArtifactStore) Create(_ context.Context, a *evidence.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[a.ID]; ok {
		return errors.NewConflictError("ARTIFACT_EXISTS", "artifact already exists")
	}
	s.artifacts[a.ID] = copyArtifact(a)
	return nil
}

func (s *ArtifactStore) Get(_ context.Context, tenantID, id uuid.UUID) (*evidence.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok || a.TenantID != tenantID {
		return nil, errors.NewNotFoundError("artifact")
	}
	return copyArtifact(a), nil
}

func (s *ArtifactStore) List(_ context.Context, tenantID uuid.UUID, filter evidence.ListFilter) ([]*evidence.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[uuid.UUID]bool
	if filter.IDs != nil {
		ids = idSet(filter.IDs)
	}
	var linked map[uuid.UUID]bool
	if filter.ObligationIDs != nil {
		linked = s.linkedToObligations(tenantID, filter.ObligationIDs)
	}

	var out []*evidence.Artifact
	for _, a := range s.artifacts {
		switch {
		case a.TenantID != tenantID,
			ids != nil && !ids[a.ID],
			linked != nil && !linked[a.ID],
			filter.ReadyOnly && a.Status != evidence.StatusReady,
			!filter.IncludeDeleted && a.IsDeleted():
			continue
		}
		out = append(out, copyArtifact(a))
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	if filter.Limit > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[filter.Offset:end]
	}
	return out, nil
}

func (s *ArtifactStore) linkedToObligations(tenantID uuid.UUID, obligationIDs []uuid.UUID) map[uuid.UUID]bool {
	obligations := idSet(obligationIDs)
	controls := map[uuid.UUID]bool{}
	requirements := map[uuid.UUID]bool{}
	if s.Catalog != nil {
		s.Catalog.mu.RLock()
		for _, c := range s.Catalog.controlsFor(tenantID, obligations) {
			controls[c.ID] = true
		}
		for _, r := range s.Catalog.requirementsFor(tenantID, obligations) {
			requirements[r.ID] = true
		}
		s.Catalog.mu.RUnlock()
	}

	out := map[uuid.UUID]bool{}
	for _, l := range s.links {
		if l.TenantID != tenantID {
			continue
		}
		switch l.Target {
		case evidence.LinkTargetObligation:
			if obligations[l.TargetID] {
				out[l.ArtifactID] = true
			}
		case evidence.LinkTargetControl:
			if controls[l.TargetID] {
				out[l.ArtifactID] = true
			}
		case evidence.LinkTargetRequirement:
			if requirements[l.TargetID] {
				out[l.ArtifactID] = true
			}
		}
	}
	return out
}

func (s *ArtifactStore) UpdateMutable(_ context.Context, a *evidence.Artifact, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.artifacts[a.ID]
	if !ok || stored.TenantID != a.TenantID || stored.IsImmutable() || stored.Revision != expectedRevision {
		return errors.NewConflictError("ARTIFACT_IMMUTABLE", "artifact is immutable or was modified concurrently")
	}
	a.Revision = expectedRevision + 1
	s.artifacts[a.ID] = copyArtifact(a)
	return nil
}

// Put overwrites a stored artifact unconditionally, for test setup
func (s *ArtifactStore) Put(a *evidence.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = copyArtifact(a)
}

func (s *ArtifactStore) AddLink(_ context.Context, link evidence.Link) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(link)
	if _, ok := s.links[key]; ok {
		return false, nil
	}
	s.links[key] = link
	return true, nil
}

func (s *ArtifactStore) RemoveLink(_ context.Context, link evidence.Link) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(link)
	existing, ok := s.links[key]
	if !ok || existing.TenantID != link.TenantID {
		return false, nil
	}
	delete(s.links, key)
	return true, nil
}

func (s *ArtifactStore) ListLinks(_ context.Context, tenantID uuid.UUID, artifactIDs []uuid.UUID) ([]evidence.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := idSet(artifactIDs)
	var out []evidence.Link
	for _, l := range s.links {
		if l.TenantID == tenantID && ids[l.ArtifactID] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return linkKey(out[i]) < linkKey(out[j]) })
	return out, nil
}

// CustodyStore implements custody.Repository with the same single-successor
// rule as the database constraint.
type CustodyStore struct {
	mu     sync.Mutex
	events []*custody.Event
	seq    int64

	// ForkOnce makes the next Append fail with ErrChainForked
	ForkOnce bool
}

var _ custody.Repository = (*CustodyStore)(nil)

func NewCustodyStore() *CustodyStore {
	return &CustodyStore{}
}

func (s *CustodyStore) Head(_ context.Context, tenantID, artifactID uuid.UUID) (values.HashValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.TenantID == tenantID && e.ArtifactID == artifactID {
			return e.EventHash, nil
		}
	}
	return values.HashValue{}, nil
}

func (s *CustodyStore) Append(_ context.Context, e *custody.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ForkOnce {
		s.ForkOnce = false
		return custody.ErrChainForked
	}
	for _, existing := range s.events {
		if existing.ArtifactID == e.ArtifactID && existing.PreviousHash.String() == e.PreviousHash.String() {
			return custody.ErrChainForked
		}
	}
	s.seq++
	e.Sequence = values.MustNewSequenceNumber(s.seq)
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *CustodyStore) List(_ context.Context, tenantID, artifactID uuid.UUID) ([]*custody.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*custody.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && e.ArtifactID == artifactID {
			cp := *e
			out = append(out, &cp)
		}
	}
	custody.SortEvents(out)
	return out, nil
}

// All returns every stored event in insertion order
func (s *CustodyStore) All() []*custody.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*custody.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns the kinds recorded for an artifact in insertion order
func (s *CustodyStore) Kinds(artifactID uuid.UUID) []custody.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []custody.EventKind
	for _, e := range s.events {
		if e.ArtifactID == artifactID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// PackStore implements pack.Repository with compare-and-set updates
type PackStore struct {
	mu    sync.Mutex
	packs map[uuid.UUID]*pack.Pack
	links map[uuid.UUID][]pack.ArtifactLink
}

var _ pack.Repository = (*PackStore)(nil)

func NewPackStore() *PackStore {
	return &PackStore{
		packs: map[uuid.UUID]*pack.Pack{},
		links: map[uuid.UUID][]pack.ArtifactLink{},
	}
}

func copyPack(p *pack.Pack) *pack.Pack {
	cp := *p
	cp.ObligationIDs = append([]uuid.UUID(nil), p.ObligationIDs...)
	return &cp
}

func (s *PackStore) Create(_ context.Context, p *pack.Pack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packs[p.ID]; ok {
		return errors.NewConflictError("PACK_EXISTS", "pack already exists")
	}
	s.packs[p.ID] = copyPack(p)
	return nil
}

func (s *PackStore) Get(_ context.Context, tenantID, id uuid.UUID) (*pack.Pack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packs[id]
	if !ok || p.TenantID != tenantID {
		return nil, errors.NewNotFoundError("pack")
	}
	return copyPack(p), nil
}

func (s *PackStore) List(_ context.Context, tenantID uuid.UUID, filter pack.ListFilter) ([]*pack.Pack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pack.Pack
	for _, p := range s.packs {
		if p.TenantID != tenantID || (filter.Status != nil && p.Status != *filter.Status) {
			continue
		}
		out = append(out, copyPack(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *PackStore) Update(_ context.Context, p *pack.Pack, expectedStatus pack.Status, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.packs[p.ID]
	if !ok || stored.TenantID != p.TenantID || stored.Status != expectedStatus || stored.Revision != expectedRevision {
		return errors.NewConflictError("PACK_STATE_CHANGED", "pack state changed")
	}
	p.Revision = expectedRevision + 1
	s.packs[p.ID] = copyPack(p)
	return nil
}

// Put overwrites a stored pack unconditionally, for test setup
func (s *PackStore) Put(p *pack.Pack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs[p.ID] = copyPack(p)
}

func (s *PackStore) AddArtifacts(_ context.Context, links []pack.ArtifactLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		exists := false
		for _, existing := range s.links[l.PackID] {
			if existing.ArtifactID == l.ArtifactID {
				exists = true
				break
			}
		}
		if !exists {
			s.links[l.PackID] = append(s.links[l.PackID], l)
		}
	}
	return nil
}

func (s *PackStore) ListArtifactIDs(_ context.Context, tenantID, packID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, l := range s.links[packID] {
		if l.TenantID == tenantID {
			ids = append(ids, l.ArtifactID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids, nil
}

func (s *PackStore) HasArtifact(_ context.Context, tenantID, packID, artifactID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links[packID] {
		if l.TenantID == tenantID && l.ArtifactID == artifactID {
			return true, nil
		}
	}
	return false, nil
}

// InspectorStore implements inspector.Repository
type InspectorStore struct {
	mu       sync.Mutex
	grants   map[uuid.UUID]*inspector.Access
	activity []*inspector.ActivityEntry
}

var _ inspector.Repository = (*InspectorStore)(nil)

func NewInspectorStore() *InspectorStore {
	return &InspectorStore{grants: map[uuid.UUID]*inspector.Access{}}
}

func copyAccess(a *inspector.Access) *inspector.Access {
	cp := *a
	return &cp
}

func (s *InspectorStore) Create(_ context.Context, a *inspector.Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.TokenHash.Equal(a.TokenHash) {
			return errors.NewConflictError("ACCESS_EXISTS", "access grant already exists")
		}
	}
	s.grants[a.ID] = copyAccess(a)
	return nil
}

func (s *InspectorStore) GetByTokenHash(_ context.Context, tokenHash values.HashValue) (*inspector.Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.TokenHash.Equal(tokenHash) {
			return copyAccess(g), nil
		}
	}
	return nil, errors.NewNotFoundError("inspector access")
}

func (s *InspectorStore) Get(_ context.Context, tenantID, id uuid.UUID) (*inspector.Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok || g.TenantID != tenantID {
		return nil, errors.NewNotFoundError("inspector access")
	}
	return copyAccess(g), nil
}

func (s *InspectorStore) ListByPack(_ context.Context, tenantID, packID uuid.UUID) ([]*inspector.Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*inspector.Access
	for _, g := range s.grants {
		if g.TenantID == tenantID && g.PackID == packID {
			out = append(out, copyAccess(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InspectorStore) Revoke(_ context.Context, a *inspector.Access) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[a.ID]
	if !ok || g.TenantID != a.TenantID || g.RevokedAt != nil {
		return false, nil
	}
	g.IsActive = false
	g.RevokedAt = a.RevokedAt
	g.RevokedBy = a.RevokedBy
	g.RevocationReason = a.RevocationReason
	return true, nil
}

func (s *InspectorStore) Extend(_ context.Context, a *inspector.Access, previousExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[a.ID]
	if !ok || g.TenantID != a.TenantID || !g.IsActive || g.RevokedAt != nil || !g.ExpiresAt.Equal(previousExpiry) {
		return errors.NewConflictError("ACCESS_CHANGED", "access was revoked or changed concurrently")
	}
	g.ExpiresAt = a.ExpiresAt
	return nil
}

func (s *InspectorStore) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.grants[id]; ok {
		g.LastUsedAt = &at
	}
	return nil
}

func (s *InspectorStore) DeactivateByPack(_ context.Context, tenantID, packID uuid.UUID, reason string, actor uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, g := range s.grants {
		if g.TenantID == tenantID && g.PackID == packID && g.Revoke(reason, actor, now) {
			n++
		}
	}
	return n, nil
}

func (s *InspectorStore) AppendActivity(_ context.Context, entry *inspector.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.activity = append(s.activity, &cp)
	return nil
}

func (s *InspectorStore) ListActivity(_ context.Context, tenantID, accessID uuid.UUID, limit int) ([]*inspector.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*inspector.ActivityEntry
	for i := len(s.activity) - 1; i >= 0; i-- {
		e := s.activity[i]
		if e.TenantID != nil && *e.TenantID == tenantID && e.AccessID != nil && *e.AccessID == accessID {
			cp := *e
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Activity returns every entry in insertion order, including ones with no tenant
func (s *InspectorStore) Activity() []*inspector.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*inspector.ActivityEntry, len(s.activity))
	copy(out, s.activity)
	return out
}
