// Package handler exposes system-parameter administration over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"escorte/internal/platform/middleware"
	"escorte/internal/sysparam"
	"escorte/pkg/platform/httputil"
)

// Service defines the interface for parameter administration.
type Service interface {
	Current(ctx context.Context) (sysparam.Parameters, error)
	SetChiefs(ctx context.Context, p sysparam.Parameters) error
}

// Handler wires parameter endpoints to the sysparam service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts parameter endpoints on the router. Admin only.
func (h *Handler) Register(r chi.Router) {
	r.Route("/parametres", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.RequireRole(h.logger, middleware.RoleAdmin))
		r.Get("/chefs", h.handleGet)
		r.Put("/chefs", h.handleSet)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Current(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var p sysparam.Parameters
	if err := httputil.ReadJSON(r, &p); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.SetChiefs(r.Context(), p); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
