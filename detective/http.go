package detective

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/contentvis/shield"
	"github.com/hazyhaar/contentvis/tagvisit"
)

// RegisterHTTP mounts the service routes on r. storeMW wraps the ingestion
// endpoint only.
func (s *Service) RegisterHTTP(r chi.Router, storeMW ...func(http.Handler) http.Handler) {
	r.Get("/health", s.handleHealth)
	r.Post("/optimize", s.handleOptimize)
	r.With(storeMW...).Post(StorePath, s.handleStore)
	r.Get("/extensions/{name}/*", s.handleAsset)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.cfg.Extensions))
	for _, ext := range s.cfg.Extensions {
		names = append(names, ext.Name())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "extensions": names})
}

func (s *Service) handleOptimize(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing url parameter"))
		return
	}
	singular, _ := strconv.ParseBool(r.URL.Query().Get("singular"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	res, err := s.Optimize(r.Context(), tagvisit.Page{URL: pageURL, Singular: singular}, body)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("optimize failed", "url", pageURL, "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-OD-Slug", res.Slug)
	w.Header().Set("X-OD-Tracked", strconv.Itoa(res.Tracked))
	w.WriteHeader(http.StatusOK)
	w.Write(res.HTML)
}

func (s *Service) handleStore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	res, err := s.StoreURLMetric(r.Context(), body)
	if errors.Is(err, ErrInvalidURLMetric) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("store url metric", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "uuid": res.ID, "group": res.Group})
}

func (s *Service) handleAsset(w http.ResponseWriter, r *http.Request) {
	ext, ok := s.Extension(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	ap, ok := ext.(AssetProvider)
	if !ok {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if !fs.ValidPath(name) || name == "." {
		http.NotFound(w, r)
		return
	}
	if _, err := fs.Stat(ap.Assets(), name); err != nil {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(name, ".js") {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	}
	if r.URL.Query().Get("ver") != "" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	http.ServeFileFS(w, r, ap.Assets(), name)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
