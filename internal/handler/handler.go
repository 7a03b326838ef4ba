// Package handler serves the mock-test JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeeprep/mocktest/internal/attempt"
	"github.com/jeeprep/mocktest/internal/i18n"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/report"
)

// maxBodyBytes bounds request bodies; a full snapshot of 90 answers is a few KB.
const maxBodyBytes = 1 << 20

// Engine is the attempt lifecycle the handler exposes.
type Engine interface {
	Start(ctx context.Context, req attempt.StartRequest) (*attempt.StartResult, error)
	Questions(ctx context.Context, attemptID string) (*attempt.Paper, error)
	Answer(ctx context.Context, attemptID string, in attempt.AnswerInput) error
	Autosave(ctx context.Context, attemptID string, snap model.Snapshot) error
	Submit(ctx context.Context, attemptID string, final map[string]model.FinalAnswer) (*attempt.SubmitResult, error)
	Report(ctx context.Context, token string) (*report.Report, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds handler settings.
type Config struct {
	// RetryAfter is advertised when the question pool is exhausted.
	RetryAfter time.Duration
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine Engine
	db     Pinger
	config Config
}

// New creates a new Handler.
func New(engine Engine, db Pinger, cfg Config) *Handler {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	return &Handler{engine: engine, db: db, config: cfg}
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/mock-tests/start", h.handleStart)
		r.Route("/attempts/{attemptID}", func(r chi.Router) {
			r.Get("/questions", h.handleQuestions)
			r.Post("/answer", h.handleAnswer)
			r.Post("/autosave", h.handleAutosave)
			r.Post("/submit", h.handleSubmit)
		})
		r.Get("/reports/{reportToken}", h.handleReport)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus maps a service error to its HTTP status and message id.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrPoolExhausted):
		return http.StatusServiceUnavailable, "ErrPoolExhausted"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, model.ErrGone):
		return http.StatusGone, "ErrGone"
	case errors.Is(err, model.ErrAttemptClosed):
		return http.StatusConflict, "ErrAttemptClosed"
	case errors.Is(err, model.ErrStaleSnapshot):
		return http.StatusConflict, "ErrStaleSnapshot"
	case errors.Is(err, model.ErrReportNotReady):
		return http.StatusConflict, "ErrReportNotReady"
	case errors.Is(err, model.ErrUnknownQuestion):
		return http.StatusBadRequest, "ErrUnknownQuestion"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "ErrInvalidInput"
	default:
		return http.StatusInternalServerError, "ErrInternal"
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.config.RetryAfter/time.Second)))
	}
	writeJSON(w, status, errResp{Error: msgID, Message: i18n.T(r.Context(), msgID)})
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(model.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startResponse struct {
	*attempt.StartResult
	Message string `json:"message"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req attempt.StartRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.engine.Start(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		StartResult: res,
		Message:     i18n.Tp(r.Context(), "QuestionsAssigned", res.TotalQuestions),
	})
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Questions(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type ackResponse struct {
	OK bool `json:"ok"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var in attempt.AnswerInput
	if err := decode(r, &in); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.engine.Answer(r.Context(), chi.URLParam(r, "attemptID"), in); err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}

func (h *Handler) handleAutosave(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := decode(r, &snap); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.engine.Autosave(r.Context(), chi.URLParam(r, "attemptID"), snap); err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}

type submitRequest struct {
	Answers map[string]model.FinalAnswer `json:"answers"`
}

type submitResponse struct {
	*attempt.SubmitResult
	Message string `json:"message"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.engine.Submit(r.Context(), chi.URLParam(r, "attemptID"), req.Answers)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	msg := i18n.Td(r.Context(), "SubmitDone", map[string]any{
		"Score": res.Summary.TotalScore,
		"Max":   res.Summary.MaxScore,
	})
	if res.Replayed {
		msg = i18n.T(r.Context(), "SubmitReplayed")
	}
	writeJSON(w, http.StatusOK, submitResponse{SubmitResult: res, Message: msg})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.Report(r.Context(), chi.URLParam(r, "reportToken"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
