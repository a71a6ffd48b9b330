package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escorte/internal/ledger"
	"escorte/internal/platform/middleware"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/testutil"
)

// stubValidator maps bearer tokens straight to claims, bypassing JWT parsing.
type stubValidator struct {
	claims map[string]*middleware.Claims
}

func (v stubValidator) ValidateToken(token string) (*middleware.Claims, error) {
	c, ok := v.claims[token]
	if !ok {
		return nil, fmt.Errorf("unknown token")
	}
	return c, nil
}

func newTestRouter(t *testing.T) (chi.Router, *ledger.Service) {
	t.Helper()
	svc := ledger.New(ledger.NewInMemoryStore())
	validator := stubValidator{claims: map[string]*middleware.Claims{
		"agent-token":      {AgentID: 42, Role: middleware.RoleAgent},
		"supervisor-token": {AgentID: 7, Role: middleware.RoleSuperviseur},
	}}
	h := New(svc, slog.Default(), validator)
	r := chi.NewRouter()
	h.Register(r)
	return r, svc
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func createPayload(numero string) map[string]any {
	return map[string]any{
		"numeroDeclaration": numero,
		"dateDeclaration":   "2026-02-01T00:00:00Z",
		"nbreColisTotal":    10,
		"poidsTotal":        "100",
	}
}

func TestHandleCreate(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := testutil.DoRequest(router, authed(testutil.NewJSONRequest(t, http.MethodPost, "/declarations", createPayload("24P50001")), "agent-token"))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[ledger.Declaration](t, rr)
	assert.Equal(t, "24P50001", created.NumeroDeclaration)
	assert.Equal(t, 10, created.NbreColisRestant)

	rr = testutil.DoRequest(router, authed(testutil.NewJSONRequest(t, http.MethodPost, "/declarations", createPayload("24P50001")), "agent-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, string(dErrors.CodeConflict))
}

func TestHandleCreateRejectsBadPayload(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := testutil.DoRequest(router, authed(testutil.NewRequestWithBody(t, http.MethodPost, "/declarations", `{"numeroDeclaratin":"X"}`), "agent-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
}

func TestHandleGet(t *testing.T) {
	router, svc := newTestRouter(t)
	seed(t, svc, "24P51001")

	rr := testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodGet, "/declarations/24P51001"), "agent-token"))
	testutil.AssertStatusOK(t, rr)
	view := testutil.UnmarshalResponse[ledger.DeclarationView](t, rr)
	assert.Equal(t, ledger.NonLivre, view.StatutLivraison)

	rr = testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodGet, "/declarations/24P99999"), "agent-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestHandleList(t *testing.T) {
	router, svc := newTestRouter(t)
	seed(t, svc, "24P52001")
	seed(t, svc, "24P52002")

	rr := testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodGet, "/declarations?statutLivraison=NON_LIVRE&perPage=1"), "agent-token"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "total", float64(2))

	rr = testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodGet, "/declarations?statutLivraison=BOGUS"), "agent-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))

	rr = testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodGet, "/declarations?dateFrom=01-02-2026"), "agent-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
}

func TestHandleClearanceRequiresSupervisor(t *testing.T) {
	router, svc := newTestRouter(t)
	d := seed(t, svc, "24P53001")

	body := map[string]any{"statutApurement": "APURE"}
	path := fmt.Sprintf("/declarations/%d/apurement", d.ID)

	rr := testutil.DoRequest(router, authed(testutil.NewJSONRequest(t, http.MethodPut, path, body), "agent-token"))
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = testutil.DoRequest(router, authed(testutil.NewJSONRequest(t, http.MethodPut, path, body), "supervisor-token"))
	testutil.AssertStatusOK(t, rr)
	view := testutil.UnmarshalResponse[ledger.DeclarationView](t, rr)
	require.NotNil(t, view.StatutApurement)
}

func TestHandleDelete(t *testing.T) {
	router, svc := newTestRouter(t)
	d := seed(t, svc, "24P54001")
	path := fmt.Sprintf("/declarations/%d", d.ID)

	rr := testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodDelete, path), "supervisor-token"))
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	rr = testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodDelete, path), "supervisor-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))

	rr = testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodDelete, "/declarations/abc"), "supervisor-token"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
}

func TestRequiresAuthentication(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/declarations"))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	rr = testutil.DoRequest(router, authed(testutil.NewRequest(t, http.MethodGet, "/declarations"), "bad-token"))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func seed(t *testing.T, svc *ledger.Service, numero string) *ledger.Declaration {
	t.Helper()
	d, err := svc.Create(context.Background(), ledger.CreateDeclarationInput{
		NumeroDeclaration: numero,
		DateDeclaration:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		NbreColisTotal:    10,
		PoidsTotal:        decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return d
}
