package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/httputil"
	"github.com/nexamediaserver/server-sub005/internal/models"
	"github.com/nexamediaserver/server-sub005/internal/rendition"
	"github.com/nexamediaserver/server-sub005/internal/repository"
)

// handleArtwork serves a rendition of an item's artwork.
//
//	GET /api/v1/items/{id}/artwork/{kind}?w=&h=&format=&quality=&fit=cover|contain&source=
//
// Without source the item's selected slot for kind is served. With source the
// stored image of that source is addressed directly, which is how thumbnails
// (no slot) are reached.
func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	kind := models.ArtworkKind(chi.URLParam(r, "kind"))
	q := r.URL.Query()

	req := rendition.Request{Format: q.Get("format")}
	var err error
	if req.Width, err = intParam(q, "w"); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Height, err = intParam(q, "h"); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Quality, err = intParam(q, "quality"); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	switch q.Get("fit") {
	case "", "cover":
	case "contain":
		req.PreserveAspect = true
	default:
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_PARAM", "fit must be cover or contain")
		return
	}

	if source := q.Get("source"); source != "" {
		req.URI = artwork.FormatURI(kind, source, id)
	} else {
		item, err := s.deps.Items.GetCatalogItem(r.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "NOT_FOUND", "item not found")
			return
		}
		if err != nil {
			s.logger.Error("load item", zap.String("item_id", id.String()), zap.Error(err))
			httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to load item")
			return
		}
		slot := item.Slot(kind)
		if slot == nil {
			httputil.WriteError(w, http.StatusBadRequest, "INVALID_KIND", "no artwork slot for "+string(kind))
			return
		}
		if slot.URI == "" {
			httputil.WriteError(w, http.StatusNotFound, "NO_ARTWORK", "no artwork selected")
			return
		}
		req.URI = slot.URI
	}

	path, err := s.deps.Renderer.GetOrDerive(r.Context(), req)
	switch {
	case errors.Is(err, artwork.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "NO_ARTWORK", "artwork not found")
		return
	case errors.Is(err, artwork.ErrInvalidURI), errors.Is(err, rendition.ErrUnsupportedFormat):
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	case err != nil:
		s.logger.Error("derive rendition", zap.String("uri", req.URI), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to render artwork")
		return
	}

	// Rendition paths are content-addressed, the slot URI is not.
	w.Header().Set("Cache-Control", "public, max-age=300")
	http.ServeFile(w, r, path)
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
