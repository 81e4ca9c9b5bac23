package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/nexpass/internal/api/middleware"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/rules"
)

// RuleStore is the persistence surface the rule handlers need.
type RuleStore interface {
	CreateRule(ctx context.Context, userID string, rule domain.TransactionRule) (*domain.TransactionRule, error)
	GetRule(ctx context.Context, userID, ruleID string) (*domain.TransactionRule, error)
	ListRules(ctx context.Context, userID string) ([]domain.TransactionRule, error)
	UpdateRule(ctx context.Context, userID string, rule domain.TransactionRule) (*domain.TransactionRule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) error
}

// RuleRunner executes rules against stored transactions.
type RuleRunner interface {
	ApplyAll(ctx context.Context, userID string, dryRun bool) (*rules.ApplyResult, error)
	ApplyRule(ctx context.Context, userID, ruleID string, dryRun bool) (*rules.ApplyResult, error)
	TestRule(ctx context.Context, userID string, rule domain.TransactionRule) (*rules.TestResult, error)
}

// RulesHandler handles transaction rule endpoints.
type RulesHandler struct {
	store  RuleStore
	runner RuleRunner
	log    zerolog.Logger
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(store RuleStore, runner RuleRunner, log zerolog.Logger) *RulesHandler {
	return &RulesHandler{store: store, runner: runner, log: log}
}

// List handles GET /api/transaction-rules
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := h.store.ListRules(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	if items == nil {
		items = []domain.TransactionRule{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": items,
		"count": len(items),
	})
}

// Create handles POST /api/transaction-rules
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.TransactionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid request body")
		return
	}

	created, err := h.store.CreateRule(ctx, middleware.GetUserID(ctx), rule)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/transaction-rules/{id}
func (h *RulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rule, err := h.store.GetRule(ctx, middleware.GetUserID(ctx), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// Update handles PUT /api/transaction-rules/{id}
func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.TransactionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid request body")
		return
	}
	rule.ID = mux.Vars(r)["id"]

	updated, err := h.store.UpdateRule(ctx, middleware.GetUserID(ctx), rule)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/transaction-rules/{id}
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.DeleteRule(ctx, middleware.GetUserID(ctx), mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/transaction-rules/test: evaluates a candidate rule
// against a sample of stored transactions without persisting anything.
func (h *RulesHandler) Test(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.TransactionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid request body")
		return
	}

	result, err := h.runner.TestRule(ctx, middleware.GetUserID(ctx), rule)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// Apply handles POST /api/transaction-rules/{id}/apply
func (h *RulesHandler) Apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dryRun := r.URL.Query().Get("dryRun") == "true"

	result, err := h.runner.ApplyRule(ctx, middleware.GetUserID(ctx), mux.Vars(r)["id"], dryRun)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// ApplyNamed handles POST /api/transaction-rules/apply: same operation as
// Apply, with the rule id in the request body.
func (h *RulesHandler) ApplyNamed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dryRun := r.URL.Query().Get("dryRun") == "true"

	var req struct {
		RuleID string `json:"ruleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid request body")
		return
	}
	if req.RuleID == "" {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "ruleId is required")
		return
	}

	result, err := h.runner.ApplyRule(ctx, middleware.GetUserID(ctx), req.RuleID, dryRun)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// ApplyAll handles POST /api/transaction-rules/apply-all
func (h *RulesHandler) ApplyAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dryRun := r.URL.Query().Get("dryRun") == "true"

	result, err := h.runner.ApplyAll(ctx, middleware.GetUserID(ctx), dryRun)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}
