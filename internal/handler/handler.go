package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examengine/internal/engine"
	"github.com/pavelanni/examengine/internal/model"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine  *engine.Engine
	grading *engine.Coordinator
	auth    *Authenticator
	db      Pinger
}

// New creates a new Handler.
func New(e *engine.Engine, c *engine.Coordinator, auth *Authenticator, db Pinger) *Handler {
	return &Handler{engine: e, grading: c, auth: auth, db: db}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Post("/exams/{examID}/attempts", h.handleStart)
		r.Put("/attempts/{attemptID}/answers", h.handleSaveAnswers)
		r.Post("/attempts/{attemptID}/submit", h.handleSubmit)
		r.Get("/attempts/{attemptID}/result", h.handleResult)

		r.Route("/grading", func(r chi.Router) {
			r.Use(requireRole(RoleGrader))
			r.Get("/pending", h.handlePending)
			r.Post("/answers/{answerID}", h.handleGrade)
			r.Get("/answers/{answerID}/suggestion", h.handleSuggestion)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	res, err := h.engine.Start(r.Context(), model.SubjectFromContext(r.Context()), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type answersRequest struct {
	Answers []model.AnswerInput `json:"answers"`
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) handleSaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if err := h.engine.SaveAnswers(r.Context(), chi.URLParam(r, "attemptID"), req.Answers); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	res, err := h.engine.Submit(r.Context(), chi.URLParam(r, "attemptID"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Result(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	res, err := h.grading.ListPending(r.Context(),
		model.PendingFilter{ExamID: r.URL.Query().Get("exam_id")},
		model.Page{Number: page, Size: perPage},
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func answerIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "answerID"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid answer ID")
	}
	return id, nil
}

type gradeRequest struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	id, err := answerIDParam(r)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	var req gradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if req.Score == nil {
		writeBadRequest(w, r, "score is required")
		return
	}
	grader := model.SubjectFromContext(r.Context())
	if err := h.grading.GradeAnswer(r.Context(), id, *req.Score, req.Feedback, grader); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	id, err := answerIDParam(r)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	s, err := h.grading.SuggestGrade(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
