// Package custody models the append-only chain-of-custody ledger kept for
// every evidence artifact.
package custody

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/canonical"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// EventKind is what happened to an artifact
type EventKind string

const (
	EventCreated                     EventKind = "CREATED"
	EventDownloaded                  EventKind = "DOWNLOADED"
	EventApproved                    EventKind = "APPROVED"
	EventLinkedToControl             EventKind = "LINKED_TO_CONTROL"
	EventLinkedToObligation          EventKind = "LINKED_TO_OBLIGATION"
	EventLinkedEvidenceRequirement   EventKind = "LINKED_EVIDENCE_REQUIREMENT"
	EventUnlinkedEvidenceRequirement EventKind = "UNLINKED_EVIDENCE_REQUIREMENT"
	EventMetadataEdited              EventKind = "METADATA_EDITED"
	EventIncludedInPack              EventKind = "INCLUDED_IN_PACK"
	EventTombstoned                  EventKind = "TOMBSTONED"
)

var validKinds = map[EventKind]bool{
	EventCreated:                     true,
	EventDownloaded:                  true,
	EventApproved:                    true,
	EventLinkedToControl:             true,
	EventLinkedToObligation:          true,
	EventLinkedEvidenceRequirement:   true,
	EventUnlinkedEvidenceRequirement: true,
	EventMetadataEdited:              true,
	EventIncludedInPack:              true,
	EventTombstoned:                  true,
}

func (k EventKind) String() string {
	return string(k)
}

func (k EventKind) IsValid() bool {
	return validKinds[k]
}

// ActorType distinguishes tenant users from external inspectors
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorInspector ActorType = "inspector"
	ActorSystem    ActorType = "system"
)

// Actor identifies who caused an event
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

func UserActor(id uuid.UUID) Actor {
	return Actor{Type: ActorUser, ID: id.String()}
}

// InspectorActor identifies an inspector by the access grant they used
func InspectorActor(accessID uuid.UUID) Actor {
	return Actor{Type: ActorInspector, ID: accessID.String()}
}

func SystemActor(component string) Actor {
	return Actor{Type: ActorSystem, ID: component}
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Type, a.ID)
}

func (a Actor) validate() error {
	switch a.Type {
	case ActorUser, ActorInspector, ActorSystem:
	default:
		return errors.NewValidationError("INVALID_ACTOR", fmt.Sprintf("unknown actor type %q", a.Type))
	}
	if a.ID == "" {
		return errors.NewValidationError("INVALID_ACTOR", "actor ID cannot be empty")
	}
	return nil
}

// Event is one custody ledger entry. Events are never updated or deleted.
// Each event hashes over its predecessor for the same artifact.
type Event struct {
	ID           uuid.UUID
	Sequence     values.SequenceNumber
	TenantID     uuid.UUID
	ArtifactID   uuid.UUID
	Kind         EventKind
	Actor        Actor
	OccurredAt   time.Time
	Metadata     map[string]any
	PreviousHash values.HashValue
	EventHash    values.HashValue
}

// NewEvent builds an unsealed event. Metadata must be canonically encodable.
func NewEvent(tenantID, artifactID uuid.UUID, kind EventKind, actor Actor, metadata map[string]any, now time.Time) (*Event, error) {
	if tenantID == uuid.Nil || artifactID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_EVENT", "tenant and artifact IDs are required")
	}
	if !kind.IsValid() {
		return nil, errors.NewValidationError("INVALID_EVENT_KIND", fmt.Sprintf("unknown custody event kind %q", kind))
	}
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, err := canonical.Marshal(metadata); err != nil {
		return nil, errors.NewValidationError("INVALID_EVENT_METADATA", "metadata is not canonically encodable").WithCause(err)
	}

	return &Event{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ArtifactID: artifactID,
		Kind:       kind,
		Actor:      actor,
		// storage keeps microseconds; truncate so the hash survives a round trip
		OccurredAt: now.UTC().Truncate(time.Microsecond),
		Metadata:   metadata,
	}, nil
}

type hashPayload struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	ArtifactID   string         `json:"artifact_id"`
	Kind         EventKind      `json:"kind"`
	ActorType    ActorType      `json:"actor_type"`
	ActorID      string         `json:"actor_id"`
	OccurredAt   string         `json:"occurred_at"`
	Metadata     map[string]any `json:"metadata"`
	PreviousHash string         `json:"previous_hash"`
}

// ComputeHash hashes the event content chained to previous
func (e *Event) ComputeHash(previous values.HashValue) (values.HashValue, error) {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	h, _, err := canonical.Hash(hashPayload{
		ID:           e.ID.String(),
		TenantID:     e.TenantID.String(),
		ArtifactID:   e.ArtifactID.String(),
		Kind:         e.Kind,
		ActorType:    e.Actor.Type,
		ActorID:      e.Actor.ID,
		OccurredAt:   canonical.FormatTime(e.OccurredAt),
		Metadata:     metadata,
		PreviousHash: previous.String(),
	})
	if err != nil {
		return values.HashValue{}, fmt.Errorf("hashing custody event %s: %w", e.ID, err)
	}
	return h, nil
}

// Seal links the event to the current head of its artifact chain
func (e *Event) Seal(previous values.HashValue) error {
	h, err := e.ComputeHash(previous)
	if err != nil {
		return err
	}
	e.PreviousHash = previous
	e.EventHash = h
	return nil
}

// SortEvents orders by occurrence time, ties broken by insertion sequence
func SortEvents(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].Sequence.Compare(events[j].Sequence) < 0
	})
}
