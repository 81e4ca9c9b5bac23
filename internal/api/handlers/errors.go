package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/nexpass/internal/api/middleware"
	"github.com/dvloznov/nexpass/internal/crypto"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/store"
)

// writeDomainError maps application errors onto HTTP responses with stable
// codes. Encryption failures are deliberately opaque to the client.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var validation *domain.RuleValidationError
	if errors.As(err, &validation) {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRule, validation.Error())
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound, "Not found")
		return
	}

	var encErr *crypto.EncryptionError
	var decErr *crypto.DecryptionError
	if errors.As(err, &encErr) || errors.As(err, &decErr) {
		log.Error().Err(err).Msg("field encryption failure")
		middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, "Internal server error")
		return
	}

	log.Error().Err(err).Msg("request failed")
	middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, "Internal server error")
}
