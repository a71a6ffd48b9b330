// Package handler exposes the modification-request workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"escorte/internal/modification"
	"escorte/internal/platform/middleware"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/httputil"
	"escorte/pkg/requestcontext"
)

// Service defines the interface for modification-request operations.
type Service interface {
	Submit(ctx context.Context, in modification.SubmitInput) (*modification.Request, error)
	Review(ctx context.Context, id int64, in modification.ReviewInput) (*modification.Request, error)
	Get(ctx context.Context, id int64) (*modification.Request, error)
	ListByOrder(ctx context.Context, missionOrderID int64) ([]*modification.Request, error)
}

// Handler wires modification-request endpoints to the workflow service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New constructs a modification-request handler with its dependencies.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts modification-request endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	review := middleware.RequireRole(h.logger, middleware.RoleSuperviseur, middleware.RoleAdmin)
	r.Route("/ordres-mission/{orderId}/modifications", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/", h.handleSubmit)
		r.Get("/", h.handleListByOrder)
	})
	r.Route("/modifications", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/{id}", h.handleGet)
		r.With(review).Put("/{id}/review", h.handleReview)
	})
}

type submitRequest struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderId")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req submitRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	created, err := h.service.Submit(ctx, modification.SubmitInput{
		MissionOrderID: orderID,
		Type:           modification.RequestType(req.Type),
		Reason:         req.Reason,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "modification submission failed",
			"order_id", orderID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderId")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	requests, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": requests})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var in modification.ReviewInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	reviewed, err := h.service.Review(r.Context(), id, in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reviewed)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "%s must be a positive integer", name)
	}
	return id, nil
}
