package budget

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/rbac"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Handler manages budget ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers budget routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermBudgetView, shared.PermBudgetEdit))
		r.Get("/departments", h.listKind(KindDepartment))
		r.Get("/projects", h.listKind(KindProject))
		r.Get("/check-availability", h.checkAvailability)
		r.Get("/alerts", h.alerts)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBudgetEdit))
		r.Post("/departments", h.create(KindDepartment))
		r.Post("/projects", h.create(KindProject))
		r.Put("/{id}", h.update)
	})
}

type createBudgetRequest struct {
	Department     string          `json:"department" validate:"omitempty,oneof=administration finance hr marketing operations sales it legal procurement other"`
	ProjectCode    string          `json:"project_code" validate:"omitempty,max=50"`
	ProjectName    string          `json:"project_name" validate:"omitempty,max=200"`
	FiscalYear     int             `json:"fiscal_year" validate:"required,gte=2000,lte=2100"`
	Total          decimal.Decimal `json:"total"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	PeriodStart    *time.Time      `json:"period_start"`
	PeriodEnd      *time.Time      `json:"period_end"`
}

type updateBudgetRequest struct {
	Total          *decimal.Decimal `json:"total"`
	Spent          *decimal.Decimal `json:"spent"`
	AlertThreshold *decimal.Decimal `json:"alert_threshold"`
	Active         *bool            `json:"active"`
	PeriodEnd      *time.Time       `json:"period_end"`
}

func (h *Handler) create(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBudgetRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := httpx.Validate(h.validate, req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		actor, _ := shared.ActorFromContext(r.Context())
		input := CreateInput{
			Kind:           kind,
			Department:     Department(req.Department),
			ProjectCode:    req.ProjectCode,
			ProjectName:    req.ProjectName,
			FiscalYear:     req.FiscalYear,
			Total:          req.Total,
			AlertThreshold: req.AlertThreshold,
			CreatedBy:      actor.ID,
		}
		if req.PeriodStart != nil {
			input.PeriodStart = *req.PeriodStart
		}
		if req.PeriodEnd != nil {
			input.PeriodEnd = *req.PeriodEnd
		}
		b, err := h.service.Create(r.Context(), input)
		if err != nil {
			h.logger.Error("create budget", slog.Any("error", err), slog.String("kind", string(kind)))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, budgetView(b))
	}
}

func (h *Handler) listKind(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		year, _ := strconv.Atoi(q.Get("fiscal_year"))
		filters := ListFilters{
			Kind:       kind,
			Department: Department(q.Get("department")),
			FiscalYear: year,
			ActiveOnly: q.Get("active") == "true",
			Page:       page,
			Limit:      limit,
		}
		items, pagination, err := h.service.List(r.Context(), filters)
		if err != nil {
			h.logger.Error("list budgets", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, b := range items {
			views = append(views, budgetView(b))
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"data": views, "pagination": pagination})
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgetView(b))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateBudgetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.Update(r.Context(), id, UpdateInput(req))
	if err != nil {
		h.logger.Error("update budget", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgetView(b))
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := strconv.ParseInt(q.Get("budget_id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.FieldErrors{"budget_id": "must be a positive integer"})
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		httpx.RespondError(w, shared.FieldErrors{"amount": "must be a decimal number"})
		return
	}
	result, err := h.service.CheckAvailability(r.Context(), id, amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.Alerts(r.Context())
	if err != nil {
		h.logger.Error("budget alerts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": alerts, "count": len(alerts)})
}

func budgetView(b Budget) map[string]any {
	return map[string]any{
		"budget":      b,
		"available":   b.Available(),
		"utilization": b.Utilization(),
		"alert_level": b.Level(),
	}
}
