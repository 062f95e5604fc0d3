package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/pkg/artifact"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/resolver"
	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

const maxBodyBytes = 1 << 20

// JobService is the subset of *service.Service the API needs.
type JobService interface {
	SubmitJob(paths []string, opts *pipeline.RunOptions) (string, error)
	GetProgress(id string) (service.Progress, error)
	GetResult(id string) (service.Result, error)
	ListJobs() []service.JobSummary
	ResolveAndCopyOutput(ctx context.Context, id, filename, destination string) error
	DescribeOutput(id, filename string) (artifact.Info, error)
	OpenOutput(ctx context.Context, id, filename string) error
	OpenOutputDir(ctx context.Context, id string) error
	ListRecentResults(limit int) ([]resolver.RecentResult, error)
	OpenResultDirectory(ctx context.Context, dirName string) error
	OpenResultFile(ctx context.Context, dirName string) error
	CheckEnvironment() (service.EnvironmentStatus, error)
	RenderPreview(ctx context.Context, req pipeline.PreviewRequest) (pipeline.PreviewResponse, error)
}

// API serves /api/v1.
type API struct {
	svc    JobService
	events EventsConfig
	logger *zap.Logger
}

// NewAPI returns the API handlers.
func NewAPI(svc JobService, events EventsConfig, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{svc: svc, events: events.withDefaults(), logger: logger}
}

// Routes mounts every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/environment", a.environment)
	r.Post("/preview", a.preview)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", a.submit)
		r.Get("/", a.listJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/progress", a.progress)
			r.Get("/result", a.result)
			r.Get("/events", a.streamEvents)
			r.Post("/outputs/copy", a.copyOutput)
			r.Post("/outputs/open", a.openOutput)
			r.Post("/outputs/open-dir", a.openOutputDir)
			r.Get("/outputs/describe", a.describeOutput)
		})
	})

	r.Route("/results", func(r chi.Router) {
		r.Get("/", a.listResults)
		r.Post("/{dirName}/open", a.openResultDir)
		r.Post("/{dirName}/open-file", a.openResultFile)
	})
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	Paths   []string             `json:"paths"`
	Options *pipeline.RunOptions `json:"options,omitempty"`
}

// SubmitResponse is the reply to POST /jobs.
type SubmitResponse struct {
	JobID string `json:"jobId"`
}

// OutputRequest names one of a job's outputs.
type OutputRequest struct {
	Filename    string `json:"filename"`
	Destination string `json:"destination,omitempty"`
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	id, err := a.svc.SubmitJob(req.Paths, req.Options)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

func (a *API) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.ListJobs())
}

func (a *API) progress(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetProgress(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) result(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.GetResult(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) copyOutput(w http.ResponseWriter, r *http.Request) {
	var req OutputRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Destination == "" {
		respondWithError(w, r, apperrors.Validation("copy output", "destination is required"))
		return
	}
	if err := a.svc.ResolveAndCopyOutput(r.Context(), chi.URLParam(r, "id"), req.Filename, req.Destination); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) openOutput(w http.ResponseWriter, r *http.Request) {
	var req OutputRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := a.svc.OpenOutput(r.Context(), chi.URLParam(r, "id"), req.Filename); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) openOutputDir(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.OpenOutputDir(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) describeOutput(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		respondWithError(w, r, apperrors.Validation("describe output", "filename is required"))
		return
	}
	info, err := a.svc.DescribeOutput(chi.URLParam(r, "id"), filename)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) listResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, r, apperrors.Validation("list results", "invalid limit %q", raw))
			return
		}
		limit = n
	}
	out, err := a.svc.ListRecentResults(limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) openResultDir(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.OpenResultDirectory(r.Context(), chi.URLParam(r, "dirName")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) openResultFile(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.OpenResultFile(r.Context(), chi.URLParam(r, "dirName")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) environment(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.CheckEnvironment()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) preview(w http.ResponseWriter, r *http.Request) {
	var req pipeline.PreviewRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := a.svc.RenderPreview(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("decode request", "request body is empty")
		}
		return apperrors.Wrap(apperrors.KindValidation, "decode request", err, "invalid JSON body")
	}
	if dec.More() {
		return apperrors.Validation("decode request", "unexpected data after JSON body")
	}
	return nil
}
