package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/app"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/report"
	"github.com/JakeFAU/posterwatch/internal/scanner"
)

const (
	defaultResourceLimit = 100
	maxResourceLimit     = 1000
	startTimeout         = 5 * time.Second
)

type resourcesResponse struct {
	Resources []poster.ResourceRef `json:"resources"`
	Total     int                  `json:"total"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

// listResources handles GET /v1/resources?limit=&offset=.
func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultResourceLimit, maxResourceLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	refs, err := s.svc.Resources(r.Context())
	if err != nil {
		s.logger.Error("list resources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list resources")
		return
	}
	page := []poster.ResourceRef{}
	if offset < len(refs) {
		page = refs[offset:min(offset+limit, len(refs))]
	}
	writeJSON(w, http.StatusOK, resourcesResponse{
		Resources: page,
		Total:     len(refs),
		Limit:     limit,
		Offset:    offset,
	})
}

type imageResponse struct {
	ResourceID string             `json:"resource_id"`
	OriginURL  string             `json:"origin_url"`
	ProxiedURL string             `json:"proxied_url"`
	Hint       poster.DisplayHint `json:"hint"`
}

// resourceImage handles GET /v1/resources/{resource_id}/image?w=&h=&q=. The
// query overrides the catalog display hint for the preview.
func (s *Server) resourceImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resource_id")
	ref, ok, err := s.svc.Resource(r.Context(), id)
	if err != nil {
		s.logger.Error("get resource failed", zap.String("resource_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load resource")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	hint, err := parseHint(r, ref.Hint)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{
		ResourceID: ref.ID,
		OriginURL:  ref.OriginURL,
		ProxiedURL: s.transformer.Optimize(ref.OriginURL, hint),
		Hint:       hint.Normalized(),
	})
}

// startScan handles POST /v1/scans. It answers 202 with the run ID once the
// run exists, or 409 while another scan is running.
func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()

	runID, err := s.svc.StartScan(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	case errors.Is(err, scanner.ErrScanInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error("start scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scan")
	}
}

type scanResponse struct {
	Run        scanner.Run    `json:"run"`
	Summary    report.Summary `json:"summary"`
	ErrorCount int            `json:"error_count"`
	Running    bool           `json:"running"`
}

// latestScan handles GET /v1/scans/latest.
func (s *Server) latestScan(w http.ResponseWriter, _ *http.Request) {
	run, ok := s.svc.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no scan has run")
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{
		Run:        run,
		Summary:    report.Summarize(run),
		ErrorCount: run.ErrorCount(),
		Running:    !run.Done(),
	})
}

// cancelScan handles POST /v1/scans/latest/cancel.
func (s *Server) cancelScan(w http.ResponseWriter, _ *http.Request) {
	if !s.svc.Cancel() {
		writeError(w, http.StatusConflict, "no scan in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseHint(r *http.Request, base poster.DisplayHint) (poster.DisplayHint, error) {
	q := r.URL.Query()
	fields := []struct {
		key string
		dst *int
	}{
		{"w", &base.Width},
		{"h", &base.Height},
		{"q", &base.Quality},
	}
	for _, f := range fields {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return poster.DisplayHint{}, errors.New("invalid " + f.key)
		}
		if f.key == "q" && val > 100 {
			return poster.DisplayHint{}, errors.New("invalid q")
		}
		*f.dst = val
	}
	return base, nil
}
