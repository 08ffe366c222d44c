package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/config"
	"github.com/nexamediaserver/server-sub005/internal/httputil"
	"github.com/nexamediaserver/server-sub005/internal/repository"
)

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Settings.All(r.Context())
	if err != nil {
		s.logger.Error("load settings", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to load settings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}

// Settings rows override the file and environment config on the next start.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	for key := range req {
		if !config.IsSettingKey(key) {
			httputil.WriteError(w, http.StatusBadRequest, "UNKNOWN_SETTING", "unknown setting: "+key)
			return
		}
	}
	if err := s.deps.Settings.SetMany(r.Context(), req); err != nil {
		s.logger.Error("save settings", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to save settings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleResetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	err := s.deps.Settings.Reset(r.Context(), key)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "setting not set")
		return
	}
	if err != nil {
		s.logger.Error("reset setting", zap.String("key", key), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to reset setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.deps.Libraries.List(r.Context())
	if err != nil {
		s.logger.Error("list libraries", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to list libraries")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, libs)
}

// handleSetAgentOrder stores a library's agent preference order, which also
// drives artwork precedence.
func (s *Server) handleSetAgentOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req struct {
		Agents []string `json:"agents"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	order := make([]string, 0, len(req.Agents))
	for _, a := range req.Agents {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			order = append(order, a)
		}
	}
	err := s.deps.Libraries.SetAgentOrder(r.Context(), id, order)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "library not found")
		return
	}
	if err != nil {
		s.logger.Error("set agent order", zap.String("library_id", id.String()), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to save agent order")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"agent_order": order})
}
