// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"

	"github.com/reelpipe/reelpipe/internal/assemble"
	"github.com/reelpipe/reelpipe/internal/model"
	"github.com/reelpipe/reelpipe/internal/orchestrator"
	"github.com/reelpipe/reelpipe/internal/planner"
	"github.com/reelpipe/reelpipe/internal/store"
)

// Planner proxies prompt-based content planning.
type Planner interface {
	PlanSegments(ctx context.Context, prompt, voice string, speed float64) (planner.Plan, error)
}

// ArtifactOpener streams stored blobs.
type ArtifactOpener interface {
	Open(ctx context.Context, artifactID string) (io.ReadCloser, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	// runCtx scopes background runs to the process lifetime, not to the
	// request that launched them.
	runCtx    context.Context
	store     *store.Store
	orc       *orchestrator.Orchestrator
	assembler *assemble.Assembler
	planner   Planner
	artifacts ArtifactOpener
	logger    *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(runCtx context.Context, st *store.Store, orc *orchestrator.Orchestrator, assembler *assemble.Assembler, pl Planner, artifacts ArtifactOpener, logger *slog.Logger) *Server {
	return &Server{
		runCtx:    runCtx,
		store:     st,
		orc:       orc,
		assembler: assembler,
		planner:   pl,
		artifacts: artifacts,
		logger:    logger,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(httplog.NewLogger("reelpipe", httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/segments/plan", s.handlePlan)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
				r.Post("/start", s.handleStart)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/assemble", s.handleAssemble)
				r.Get("/final-video", s.handleFinalVideo)
				r.Put("/segments", s.handleReplaceSegments)
				r.Route("/segments/{segmentID}", func(r chi.Router) {
					r.Delete("/", s.handleDeleteSegment)
					r.Post("/retry", s.handleRetry)
					r.Get("/logs", s.handleLogs)
					r.Get("/video", s.handleSegmentVideo)
				})
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

type planRequest struct {
	Prompt string  `json:"prompt"`
	Voice  string  `json:"voice"`
	Speed  float64 `json:"speed"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, model.Validationf("invalid request body: %v", err))
		return
	}
	if req.Prompt == "" {
		s.writeError(w, r, model.Validationf("prompt is required"))
		return
	}
	plan, err := s.planner.PlanSegments(r.Context(), req.Prompt, req.Voice, req.Speed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, plan)
}

type createJobRequest struct {
	Segments      []model.Segment `json:"segments"`
	Context       string          `json:"context"`
	RetentionDays int             `json:"retention_days"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, model.Validationf("invalid request body: %v", err))
		return
	}
	job, err := s.store.Create(req.Segments, req.Context, req.RetentionDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("job created", "job_id", job.ID, "segments", len(job.Segments))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.store.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.store.Delete(jobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"deleted": true, "job_id": jobID})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	job, err := s.orc.Start(s.runCtx, chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"status": job.Status, "current_segment_index": job.CurrentSegmentIndex})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	job, err := s.orc.Pause(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"status": job.Status, "pause_requested": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	job, from, err := s.orc.Resume(s.runCtx, chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"status": job.Status, "from_segment_index": from})
}

type replaceSegmentsRequest struct {
	Segments []model.Segment `json:"segments"`
}

func (s *Server) handleReplaceSegments(w http.ResponseWriter, r *http.Request) {
	var req replaceSegmentsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, model.Validationf("invalid request body: %v", err))
		return
	}
	job, err := s.store.ReplaceSegments(chi.URLParam(r, "jobID"), req.Segments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")
	_, err := s.store.DeleteSegment(chi.URLParam(r, "jobID"), segmentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"deleted": true, "segment_id": segmentID})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	segmentID := chi.URLParam(r, "segmentID")
	job, err := s.orc.Retry(s.runCtx, jobID, segmentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"status": job.Status}
	if seg := job.SegmentByID(segmentID); seg != nil {
		resp["segment_status"] = seg.Status
		if seg.Error != "" {
			resp["error"] = seg.Error
		}
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines, segErr, err := s.store.Logs(chi.URLParam(r, "jobID"), chi.URLParam(r, "segmentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"logs": lines}
	if segErr != "" {
		resp["error"] = segErr
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleSegmentVideo(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	seg := job.SegmentByID(chi.URLParam(r, "segmentID"))
	if seg == nil {
		s.writeError(w, r, model.ErrNotFound)
		return
	}
	if seg.CombinedArtifactID == "" {
		s.writeError(w, r, model.ErrMissingArtifact)
		return
	}
	s.streamArtifact(w, r, seg.CombinedArtifactID)
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	job, err := s.assembler.Assemble(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"status":             job.Status,
		"final_artifact_id":  job.FinalArtifactID,
		"poster_artifact_id": job.PosterArtifactID,
	})
}

func (s *Server) handleFinalVideo(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job.FinalArtifactID == "" {
		s.writeError(w, r, model.ErrMissingArtifact)
		return
	}
	s.streamArtifact(w, r, job.FinalArtifactID)
}

func (s *Server) streamArtifact(w http.ResponseWriter, r *http.Request, artifactID string) {
	rc, err := s.artifacts.Open(r.Context(), artifactID)
	if err != nil {
		s.writeError(w, r, model.ErrMissingArtifact)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "video/mp4")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream artifact interrupted", "artifact_id", artifactID, "err", err)
	}
}

// writeError maps domain errors onto HTTP statuses and emits a JSON body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var verr model.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrMissingArtifact):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}
