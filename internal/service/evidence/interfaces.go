package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/evidence"
)

// CustodyRecorder appends custody events
type CustodyRecorder interface {
	Record(ctx context.Context, tenantID, artifactID uuid.UUID, kind custody.EventKind, actor custody.Actor, metadata map[string]any) (*custody.Event, error)
}

// UploadRequest registers a new artifact awaiting its first binary
type UploadRequest struct {
	TenantID       uuid.UUID `json:"-"`
	ActorID        uuid.UUID `json:"-"`
	Name           string    `json:"name" validate:"required,max=500"`
	MediaType      string    `json:"media_type" validate:"required,max=200"`
	Description    string    `json:"description" validate:"max=4000"`
	Classification string    `json:"classification" validate:"max=100"`
}

// UploadTicket tells the client where to PUT the binary
type UploadTicket struct {
	Artifact   *evidence.Artifact `json:"artifact"`
	Version    int                `json:"version"`
	StorageKey string             `json:"-"`
	UploadURL  string             `json:"upload_url"`
	ExpiresAt  time.Time          `json:"expires_at"`
}

// DownloadLink is a short-lived presigned GET
type DownloadLink struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	Version    int       `json:"version"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}
