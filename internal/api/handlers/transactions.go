package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/nexpass/internal/api/middleware"
	"github.com/dvloznov/nexpass/internal/categorize"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/similar"
	"github.com/dvloznov/nexpass/internal/store"
)

// similarScanLimit bounds how many recent transactions a similarity scan
// walks when a transaction is recategorized.
const similarScanLimit = 500

// autoCategorizeLimit caps one auto-categorization pass.
const autoCategorizeLimit = 200

// TransactionStore is the persistence surface the transaction handlers need.
type TransactionStore interface {
	ListTransactions(ctx context.Context, userID string, opt store.ListOptions) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error)
	ApplyUpdate(ctx context.Context, userID, txID string, update domain.TransactionUpdate) error
}

// Suggester picks a category from plaintext transaction fields.
type Suggester interface {
	Suggest(ctx context.Context, in categorize.Input, fallback domain.Category) domain.Category
}

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	store      TransactionStore
	categories Suggester
	matcher    similar.Matcher
	log        zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(txs TransactionStore, categories Suggester, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		store:      txs,
		categories: categories,
		matcher:    similar.NormalizedMatcher{},
		log:        log,
	}
}

// List handles GET /api/transactions
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	q := r.URL.Query()

	opt := store.ListOptions{
		From:            q.Get("from"),
		To:              q.Get("to"),
		IncludeExcluded: q.Get("includeExcluded") == "true",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid limit")
			return
		}
		opt.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid offset")
			return
		}
		opt.Offset = n
	}

	transactions, err := h.store.ListTransactions(ctx, userID, opt)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

type updateRequest struct {
	Category     *string `json:"category"`
	Exclude      *bool   `json:"exclude"`
	Description  *string `json:"description"`
	Counterparty *string `json:"counterparty"`
}

// Update handles PATCH /api/transactions/{id}. When the category changes,
// the response lists ids of similar transactions so the client can offer a
// bulk recategorization.
func (h *TransactionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	txID := mux.Vars(r)["id"]

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid request body")
		return
	}

	update := domain.TransactionUpdate{
		Exclude:      req.Exclude,
		Description:  req.Description,
		Counterparty: req.Counterparty,
	}
	if req.Category != nil {
		cat, ok := domain.ParseCategory(*req.Category)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Unknown category")
			return
		}
		update.Category = &cat
	}
	if update.IsZero() {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Empty update")
		return
	}

	if err := h.store.ApplyUpdate(ctx, userID, txID, update); err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	updated, err := h.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	resp := map[string]interface{}{"transaction": updated}
	if update.Category != nil {
		resp["similarTransactionIds"] = h.similarIDs(ctx, userID, *updated)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// similarIDs finds other transactions with the same normalized payee.
// Failures degrade to an empty list; similarity is a hint, not data.
func (h *TransactionsHandler) similarIDs(ctx context.Context, userID string, tx domain.Transaction) []string {
	recent, err := h.store.ListTransactions(ctx, userID, store.ListOptions{
		Limit:           similarScanLimit,
		IncludeExcluded: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("similarity scan failed")
		return []string{}
	}

	ids := []string{}
	for _, other := range recent {
		if other.ID == tx.ID {
			continue
		}
		if h.matcher.Similar(tx, other) {
			ids = append(ids, other.ID)
		}
	}
	return ids
}

// AutoCategorize handles POST /api/transactions/auto-categorize: re-runs
// categorization over uncategorized transactions. The interactive fallback is
// Uncategorized, so anything still unresolved stays visible to the user.
func (h *TransactionsHandler) AutoCategorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	transactions, err := h.store.ListTransactions(ctx, userID, store.ListOptions{
		Limit:           autoCategorizeLimit,
		IncludeExcluded: true,
	})
	if err != nil {
		writeDomainError(w, h.log, err)
		return
	}

	processed, categorized := 0, 0
	for _, tx := range transactions {
		if tx.Category != domain.CategoryUncategorized && tx.Category != "" {
			continue
		}
		processed++

		cat := h.categories.Suggest(ctx, categorize.Input{
			UserID:       userID,
			Description:  tx.Description,
			Counterparty: tx.Counterparty,
			Amount:       tx.Amount,
			Currency:     tx.Currency,
		}, domain.CategoryUncategorized)
		if cat == domain.CategoryUncategorized || cat == "" {
			continue
		}

		if err := h.store.ApplyUpdate(ctx, userID, tx.ID, domain.TransactionUpdate{Category: &cat}); err != nil {
			writeDomainError(w, h.log, err)
			return
		}
		categorized++
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int{
		"processed":   processed,
		"categorized": categorized,
	})
}
