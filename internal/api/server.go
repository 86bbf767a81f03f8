// Package api is the thin HTTP adapter over the scheduler service. The
// scheduling core is transport-agnostic; everything here is request
// decoding, error mapping and JSON encoding.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentflow/internal/domain"
	"contentflow/internal/scheduler"
)

type Server struct {
	svc *scheduler.Service
}

func NewServer(svc *scheduler.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{svc: svc}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/schedules", s.schedule)
	r.Post("/api/schedules/bulk", s.bulkSchedule)
	r.Get("/api/schedules/{id}", s.getTask)
	r.Get("/api/schedules/{id}/attempts", s.getAttempts)
	r.Post("/api/schedules/{id}/reschedule", s.reschedule)
	r.Post("/api/schedules/{id}/cancel", s.cancel)
	r.Post("/api/schedules/{id}/pause", s.pause)
	r.Post("/api/schedules/{id}/resume", s.resume)
	r.Get("/api/slots", s.slots)
	r.Get("/api/statistics", s.statistics)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// taskView is the wire shape of a task. The domain struct stays untagged;
// the adapter owns the field names.
type taskView struct {
	ID               string                    `json:"id"`
	CustomerID       string                    `json:"customer_id"`
	Platform         domain.Platform           `json:"platform"`
	EntityType       domain.EntityType         `json:"entity_type"`
	EntityID         string                    `json:"entity_id"`
	ScheduledFor     time.Time                 `json:"scheduled_for"`
	Status           domain.Status             `json:"status"`
	Priority         domain.Priority           `json:"priority"`
	RetryCount       int                       `json:"retry_count"`
	NextRetryAt      *time.Time                `json:"next_retry_at,omitempty"`
	Recurrence       *domain.RecurrencePattern `json:"recurrence,omitempty"`
	ParentScheduleID string                    `json:"parent_schedule_id,omitempty"`
	Tags             []string                  `json:"tags,omitempty"`
	Notes            string                    `json:"notes,omitempty"`
	CancelReason     string                    `json:"cancel_reason,omitempty"`
	ExecutedAt       *time.Time                `json:"executed_at,omitempty"`
	CreatedBy        string                    `json:"created_by,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

func toTaskView(t domain.ScheduledTask) taskView {
	return taskView{
		ID:               t.ID,
		CustomerID:       t.CustomerID,
		Platform:         t.Platform,
		EntityType:       t.EntityType,
		EntityID:         t.EntityID,
		ScheduledFor:     t.ScheduledFor,
		Status:           t.Status,
		Priority:         t.Priority,
		RetryCount:       t.RetryCount,
		NextRetryAt:      t.NextRetryAt,
		Recurrence:       t.Recurrence,
		ParentScheduleID: t.ParentScheduleID,
		Tags:             t.Tags,
		Notes:            t.Notes,
		CancelReason:     t.CancelReason,
		ExecutedAt:       t.ExecutedAt,
		CreatedBy:        t.CreatedBy,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

type scheduleResp struct {
	Task      taskView                  `json:"task"`
	Conflicts []domain.ScheduleConflict `json:"conflicts,omitempty"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var in scheduler.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	task, conflicts, err := s.svc.Schedule(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduleResp{Task: toTaskView(task), Conflicts: conflicts})
}

type bulkReq struct {
	Inputs   []scheduler.ScheduleInput `json:"inputs"`
	Strategy string                    `json:"distribution_strategy,omitempty"`
}

func (s *Server) bulkSchedule(w http.ResponseWriter, r *http.Request) {
	var req bulkReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs are required", http.StatusBadRequest)
		return
	}
	res, err := s.svc.BulkSchedule(r.Context(), req.Inputs, req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	out := bulkResp{Failures: res.Failures}
	for _, t := range res.Scheduled {
		out.Scheduled = append(out.Scheduled, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type bulkResp struct {
	Scheduled []taskView              `json:"scheduled"`
	Failures  []scheduler.BulkFailure `json:"failures,omitempty"`
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(t))
}

func (s *Server) getAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.svc.Attempts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

type rescheduleReq struct {
	NewTime time.Time `json:"new_time"`
	Force   bool      `json:"force,omitempty"`
}

func (s *Server) reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.svc.Reschedule(r.Context(), chi.URLParam(r, "id"), req.NewTime, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(t))
}

type cancelReq struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	t, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(t))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(t))
}

type resumeReq struct {
	NewTime *time.Time `json:"new_time,omitempty"`
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var req resumeReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	t, err := s.svc.Resume(r.Context(), chi.URLParam(r, "id"), req.NewTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(t))
}

func (s *Server) slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customer := q.Get("customer_id")
	platform := domain.Platform(q.Get("platform"))
	from, err1 := time.Parse(time.RFC3339, q.Get("from"))
	to, err2 := time.Parse(time.RFC3339, q.Get("to"))
	if customer == "" || !platform.Valid() || err1 != nil || err2 != nil {
		http.Error(w, "customer_id, platform, from and to are required", http.StatusBadRequest)
		return
	}
	slots, err := s.svc.AvailableSlots(r.Context(), customer, platform, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customer := q.Get("customer_id")
	if customer == "" {
		http.Error(w, "customer_id is required", http.StatusBadRequest)
		return
	}
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
			return
		}
		to = t
	}
	stats, err := s.svc.Statistics(r.Context(), customer, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeError(w http.ResponseWriter, err error) {
	var ce *domain.ConflictError
	var ite *domain.InvalidTransitionError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"conflicts": ce.Conflicts,
		})
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAlreadyTerminal), errors.As(err, &ite), errors.Is(err, domain.ErrStaleTask):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
