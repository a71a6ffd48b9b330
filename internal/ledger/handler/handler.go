// Package handler exposes the declaration ledger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"escorte/internal/ledger"
	"escorte/internal/platform/middleware"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/httputil"
	"escorte/pkg/requestcontext"
)

// Service defines the interface for declaration operations.
type Service interface {
	Create(ctx context.Context, in ledger.CreateDeclarationInput) (*ledger.Declaration, error)
	GetByNumero(ctx context.Context, numero string) (*ledger.DeclarationView, error)
	GetByID(ctx context.Context, id int64) (*ledger.DeclarationView, error)
	List(ctx context.Context, filter ledger.ListFilter) ([]*ledger.DeclarationView, int, error)
	UpdateClearance(ctx context.Context, id int64, statut string, date time.Time) (*ledger.DeclarationView, error)
	SoftDelete(ctx context.Context, id int64) error
}

// Handler wires declaration endpoints to the ledger service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New constructs a declaration handler with its dependencies.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts declaration endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/declarations", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{numero}", h.handleGet)
		r.With(middleware.RequireRole(h.logger, middleware.RoleSuperviseur, middleware.RoleAdmin)).
			Put("/{id}/apurement", h.handleClearance)
		r.With(middleware.RequireRole(h.logger, middleware.RoleSuperviseur, middleware.RoleAdmin)).
			Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in ledger.CreateDeclarationInput
	if err := httputil.ReadJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.Create(ctx, in)
	if err != nil {
		h.logger.ErrorContext(ctx, "declaration creation failed",
			"numero", in.NumeroDeclaration,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetByNumero(r.Context(), chi.URLParam(r, "numero"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views, total, err := h.service.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":   views,
		"total":   total,
		"page":    filter.Page,
		"perPage": filter.PerPage,
	})
}

type clearanceRequest struct {
	StatutApurement string     `json:"statutApurement"`
	DateApurement   *time.Time `json:"dateApurement,omitempty"`
}

func (h *Handler) handleClearance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req clearanceRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	date := requestcontext.Now(ctx)
	if req.DateApurement != nil {
		date = *req.DateApurement
	}
	view, err := h.service.UpdateClearance(ctx, id, req.StatutApurement, date)
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
	if err := h.service.SoftDelete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseListFilter(r *http.Request) (ledger.ListFilter, error) {
	var filter ledger.ListFilter
	q := r.URL.Query()
	if raw := q.Get("statutLivraison"); raw != "" {
		statut := ledger.StatutLivraison(raw)
		switch statut {
		case ledger.TotalementLivre, ledger.PartiellementLivre, ledger.NonLivre:
			filter.StatutLivraison = &statut
		default:
			return filter, dErrors.Newf(dErrors.CodeValidation, "unsupported statutLivraison: %s", raw)
		}
	}
	for name, dst := range map[string]**time.Time{"dateFrom": &filter.DateFrom, "dateTo": &filter.DateTo} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return filter, dErrors.Newf(dErrors.CodeValidation, "%s must be YYYY-MM-DD", name)
			}
			*dst = &t
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("perPage"))
	filter.Normalize()
	return filter, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "%s must be a positive integer", name)
	}
	return id, nil
}
