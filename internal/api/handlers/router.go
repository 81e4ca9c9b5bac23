package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/nexpass/internal/api/middleware"
)

// NewRouter wires every endpoint with the shared middleware chain. Health is
// outside the auth boundary.
func NewRouter(txs *TransactionsHandler, ruleH *RulesHandler, pinger Pinger, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.HandleFunc("/health", Health(pinger)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(mux.MiddlewareFunc(middleware.Auth))

	api.HandleFunc("/transactions", txs.List).Methods(http.MethodGet)
	api.HandleFunc("/transactions/auto-categorize", txs.AutoCategorize).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", txs.Update).Methods(http.MethodPatch)

	api.HandleFunc("/transaction-rules", ruleH.List).Methods(http.MethodGet)
	api.HandleFunc("/transaction-rules", ruleH.Create).Methods(http.MethodPost)
	api.HandleFunc("/transaction-rules/apply", ruleH.ApplyNamed).Methods(http.MethodPost)
	api.HandleFunc("/transaction-rules/apply-all", ruleH.ApplyAll).Methods(http.MethodPost)
	api.HandleFunc("/transaction-rules/test", ruleH.Test).Methods(http.MethodPost)
	api.HandleFunc("/transaction-rules/{id}", ruleH.Get).Methods(http.MethodGet)
	api.HandleFunc("/transaction-rules/{id}", ruleH.Update).Methods(http.MethodPut)
	api.HandleFunc("/transaction-rules/{id}", ruleH.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/transaction-rules/{id}/apply", ruleH.Apply).Methods(http.MethodPost)

	return middleware.CORS(r)
}
