package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/httputil"
	"github.com/nexamediaserver/server-sub005/internal/jobs"
	"github.com/nexamediaserver/server-sub005/internal/repository"
)

type enrichRequest struct {
	OverrideFields []string `json:"override_fields"`
	MetadataOnly   bool     `json:"metadata_only"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req enrichRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if s.deps.Queue == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "job queue not configured")
		return
	}

	if s.deps.Items != nil {
		if _, err := s.deps.Items.GetCatalogItem(r.Context(), id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "item not found")
				return
			}
			s.logger.Error("load item", zap.String("item_id", id.String()), zap.Error(err))
			httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to load item")
			return
		}
	}

	taskID, err := jobs.EnqueueEnrich(r.Context(), s.deps.Queue, jobs.EnrichPayload{
		ItemID:         id.String(),
		OverrideFields: req.OverrideFields,
		MetadataOnly:   req.MetadataOnly,
	})
	if err != nil {
		s.logger.Error("enqueue enrichment", zap.String("item_id", id.String()), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to queue enrichment")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}
