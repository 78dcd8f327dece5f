package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/rbac"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

var (
	financeOfficer = shared.Actor{ID: 30, Name: "Fina", Role: shared.RoleFinanceOfficer}
	employee       = shared.Actor{ID: 10, Name: "Eko", Role: shared.RoleEmployee}
)

func newBudgetRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newTestService()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, rbac.Middleware{Service: rbac.NewService(nil), Logger: logger})
	r := chi.NewRouter()
	r.Route("/api/v1/budgets", h.MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, actor shared.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	req = req.WithContext(shared.ContextWithActor(context.Background(), actor))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

type budgetResponse struct {
	Budget     Budget     `json:"budget"`
	AlertLevel AlertLevel `json:"alert_level"`
}

func TestHandlerCreateAndReadBudget(t *testing.T) {
	router := newBudgetRouter(t)
	body := map[string]any{"department": "it", "fiscal_year": 2026, "total": "50000"}

	rr := doJSON(t, router, employee, http.MethodPost, "/api/v1/budgets/departments", body)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, router, financeOfficer, http.MethodPost, "/api/v1/budgets/departments", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created budgetResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, AlertNormal, created.AlertLevel)

	rr = doJSON(t, router, financeOfficer, http.MethodPost, "/api/v1/budgets/departments", body)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, router, employee, http.MethodGet, fmt.Sprintf("/api/v1/budgets/%d", created.Budget.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, employee, http.MethodGet, "/api/v1/budgets/departments?fiscal_year=2026", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Data       []budgetResponse  `json:"data"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	require.Equal(t, 1, page.Pagination.Total)
}

func TestHandlerCheckAvailabilityAndAlerts(t *testing.T) {
	router := newBudgetRouter(t)
	rr := doJSON(t, router, financeOfficer, http.MethodPost, "/api/v1/budgets/projects", map[string]any{
		"project_code": "PRJ-9", "project_name": "ERP rollout", "fiscal_year": 2026, "total": 1000,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created budgetResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	path := fmt.Sprintf("/api/v1/budgets/check-availability?budget_id=%d&amount=1200", created.Budget.ID)
	rr = doJSON(t, router, employee, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var availability Availability
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &availability))
	require.False(t, availability.Available)

	rr = doJSON(t, router, employee, http.MethodGet, "/api/v1/budgets/check-availability?budget_id=x&amount=1", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, financeOfficer, http.MethodPut, fmt.Sprintf("/api/v1/budgets/%d", created.Budget.ID), map[string]any{"spent": "950"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, router, employee, http.MethodGet, "/api/v1/budgets/alerts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var alerts struct {
		Data  []Alert `json:"data"`
		Count int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alerts))
	require.Equal(t, 1, alerts.Count)
	require.Equal(t, SeverityHigh, alerts.Data[0].Severity)
}
