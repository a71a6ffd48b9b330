// Package handler exposes the mission-order lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"escorte/internal/mission"
	"escorte/internal/platform/middleware"
	"escorte/pkg/domain"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/httputil"
	"escorte/pkg/requestcontext"
)

// Service defines the interface for mission-order operations.
type Service interface {
	Create(ctx context.Context, in mission.CreateOrderInput) (*mission.OrderView, error)
	Get(ctx context.Context, id int64) (*mission.OrderView, error)
	GetByNumber(ctx context.Context, number string) (*mission.OrderView, error)
	List(ctx context.Context, f mission.ListFilter) ([]*mission.MissionOrder, int, error)
	Update(ctx context.Context, id int64, in mission.UpdateOrderInput) (*mission.OrderView, error)
	ChangeStatut(ctx context.Context, id int64, to mission.Statut) (*mission.OrderView, error)
	UpdateStatutApurement(ctx context.Context, id int64, statut string) (*mission.OrderView, error)
	Remove(ctx context.Context, id int64) error
	ReverseAllocation(ctx context.Context, orderID, allocationID int64) error
}

// Handler wires mission-order endpoints to the mission service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New constructs a mission-order handler with its dependencies.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts mission-order endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	supervise := middleware.RequireRole(h.logger, middleware.RoleSuperviseur, middleware.RoleAdmin)
	r.Route("/ordres-mission", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/numero/{number}", h.handleGetByNumber)
		r.Put("/{id}", h.handleUpdate)
		r.Put("/{id}/statut", h.handleStatut)
		r.With(supervise).Put("/{id}/apurement", h.handleApurement)
		r.With(supervise).Delete("/{id}", h.handleDelete)
		r.With(supervise).Delete("/{id}/parcelles/{allocationId}", h.handleReverseAllocation)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	var in mission.CreateOrderInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.Create(ctx, in)
	if err != nil {
		h.logger.ErrorContext(ctx, "mission order creation failed",
			"error", err,
			"agent_id", requestcontext.AgentID(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "mission order created",
		"number", view.Number,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleGetByNumber(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	orders, total, err := h.service.List(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":   orders,
		"total":   total,
		"page":    f.Page,
		"perPage": f.PerPage,
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var in mission.UpdateOrderInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

type statutRequest struct {
	Statut string `json:"statut"`
}

func (h *Handler) handleStatut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req statutRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	statut, err := mission.ParseStatut(req.Statut)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.ChangeStatut(r.Context(), id, statut)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

type apurementRequest struct {
	StatutApurement string `json:"statutApurement"`
}

func (h *Handler) handleApurement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req apurementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.UpdateStatutApurement(r.Context(), id, req.StatutApurement)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Remove(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReverseAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	allocationID, err := pathID(r, "allocationId")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.ReverseAllocation(r.Context(), id, allocationID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseListFilter(r *http.Request) (mission.ListFilter, error) {
	var f mission.ListFilter
	q := r.URL.Query()
	if raw := q.Get("statut"); raw != "" {
		statut, err := mission.ParseStatut(raw)
		if err != nil {
			return f, err
		}
		f.Statut = &statut
	}
	if raw := q.Get("statutApurement"); raw != "" {
		apurement, err := domain.ParseStatutApurement(raw)
		if err != nil {
			return f, err
		}
		f.Apurement = &apurement
	}
	for name, dst := range map[string]**time.Time{"dateFrom": &f.DateFrom, "dateTo": &f.DateTo} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return f, dErrors.Newf(dErrors.CodeValidation, "%s must be YYYY-MM-DD", name)
			}
			*dst = &t
		}
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("perPage"))
	f.Normalize()
	return f, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "%s must be a positive integer", name)
	}
	return id, nil
}
