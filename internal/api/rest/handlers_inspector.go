package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
)

func inspectorSession(ctx context.Context) (*inspectorsvc.Session, error) {
	sess := sessionFrom(ctx)
	if sess == nil {
		return nil, errors.NewUnauthorizedError("UNAUTHENTICATED", "inspector token required")
	}
	return sess, nil
}

func (h *Handlers) inspectorPack(ctx context.Context, _ *http.Request) (interface{}, error) {
	sess, err := inspectorSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.inspector.GetPackView(ctx, sess)
}

func (h *Handlers) inspectorManifest(ctx context.Context, _ *http.Request) (interface{}, error) {
	sess, err := inspectorSession(ctx)
	if err != nil {
		return nil, err
	}
	return h.inspector.GetManifest(ctx, sess)
}

func (h *Handlers) inspectorDownload(ctx context.Context, r *http.Request) (interface{}, error) {
	sess, err := inspectorSession(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, err := pathUUID(r, "artifactID")
	if err != nil {
		return nil, err
	}
	return h.inspector.GetArtifactDownloadURL(ctx, sess, artifactID)
}

// handleInspectorReport serves the verification report as an attachment
func (h *Handlers) handleInspectorReport(w http.ResponseWriter, r *http.Request) {
	sess, err := inspectorSession(r.Context())
	if err != nil {
		h.base.writeError(w, r, err)
		return
	}
	report, err := h.inspector.ExportReport(r.Context(), sess)
	if err != nil {
		h.base.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "pack-"+sess.Pack.ID.String()+"-report.json"))
	h.base.writeSuccess(w, r, http.StatusOK, report)
}
