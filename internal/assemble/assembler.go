// Package assemble turns aggregator payloads into persistable documents:
// stable document ids, field extraction, categorization of the plaintext, and
// finally encoding through the entity field tables.
package assemble

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/dvloznov/nexpass/internal/categorize"
	"github.com/dvloznov/nexpass/internal/codec"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/gocardless"
	"github.com/dvloznov/nexpass/internal/similar"
)

// maxDocIDLen matches the document id limit of the original store.
const maxDocIDLen = 36

// Suggester picks a category from plaintext transaction fields.
type Suggester interface {
	Suggest(ctx context.Context, in categorize.Input, fallback domain.Category) domain.Category
}

// Assembler builds documents for the sync path. Categorization runs on the
// plaintext before any field is encrypted.
type Assembler struct {
	encoder    *codec.Encoder
	categories Suggester
}

// New builds an Assembler. categories may be nil, in which case every
// transaction lands as Miscellaneous.
func New(encoder *codec.Encoder, categories Suggester) *Assembler {
	return &Assembler{encoder: encoder, categories: categories}
}

// sanitizeDocID maps any byte outside [A-Za-z0-9_-] to an underscore and caps
// the result so every generated id is a valid document key.
func sanitizeDocID(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			b[i] = '_'
		}
	}
	if len(b) > maxDocIDLen {
		b = b[:maxDocIDLen]
	}
	return string(b)
}

// GenerateDocID derives a stable document id for a transaction. The provider
// transaction id wins when present; otherwise the id is a hash over the
// fields that identify the transaction, so re-syncing the same window never
// duplicates rows. The description part is resolved and normalized the same
// way the stored field is, so payloads that differ only in which description
// field carries the text hash identically.
func GenerateDocID(accountID string, tx gocardless.Transaction) string {
	if id := tx.ProviderID(); id != "" {
		return sanitizeDocID(id)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s",
		accountID, tx.BookingDate, tx.TransactionAmount.Amount, similar.Normalize(description(tx)))))
	return sanitizeDocID("gen_" + hex.EncodeToString(sum[:16]))
}

// description prefers the unstructured remittance text and falls back to the
// bank's additional information.
func description(tx gocardless.Transaction) string {
	if tx.RemittanceInformationUnstructured != "" {
		return tx.RemittanceInformationUnstructured
	}
	return tx.AdditionalInformation
}

// counterparty prefers the creditor name and falls back to the debtor.
func counterparty(tx gocardless.Transaction) string {
	if tx.CreditorName != "" {
		return tx.CreditorName
	}
	return tx.DebtorName
}

// Transaction assembles one transaction document. It returns the document id
// and the encoded document ready to insert.
func (a *Assembler) Transaction(ctx context.Context, userID, accountID string, tx gocardless.Transaction, now time.Time) (string, bson.M, error) {
	docID := GenerateDocID(accountID, tx)
	desc := description(tx)
	payee := counterparty(tx)

	category := domain.CategoryMiscellaneous
	if a.categories != nil {
		category = a.categories.Suggest(ctx, categorize.Input{
			UserID:       userID,
			Description:  desc,
			Counterparty: payee,
			Amount:       tx.TransactionAmount.Amount,
			Currency:     tx.TransactionAmount.Currency,
		}, domain.CategoryMiscellaneous)
	}

	values := map[string]interface{}{
		"userId":          userID,
		"accountId":       accountID,
		"transactionId":   tx.ProviderID(),
		"category":        string(category),
		"exclude":         false,
		"bookingDate":     tx.BookingDate,
		"valueDate":       tx.ValueDate,
		"bookingDateTime": tx.BookingDateTime,
		"amount":          tx.TransactionAmount.Amount,
		"currency":        tx.TransactionAmount.Currency,
		"description":     desc,
		"counterparty":    payee,
		"raw":             string(tx.Raw),
		"createdAt":       domain.Timestamp(now),
		"updatedAt":       domain.Timestamp(now),
	}

	doc, err := a.encoder.Encode(ctx, codec.TransactionFields, values)
	if err != nil {
		return "", nil, fmt.Errorf("Transaction: encode %s: %w", docID, err)
	}
	return docID, doc, nil
}

// BalanceDocID is the dedup key for balances: one document per account and
// balance type, updated in place on every sync. Aggregator account ids are
// UUIDs, so the account part is hashed when the combined key would blow the
// id limit; the balance type always stays readable in the id.
func BalanceDocID(accountID, balanceType string) string {
	id := accountID + "_" + balanceType
	if len(id) > maxDocIDLen {
		sum := sha256.Sum256([]byte(accountID))
		id = hex.EncodeToString(sum[:8]) + "_" + balanceType
	}
	return sanitizeDocID(id)
}

// Balance assembles one balance document.
func (a *Assembler) Balance(ctx context.Context, userID, accountID string, bal gocardless.Balance, now time.Time) (string, bson.M, error) {
	docID := BalanceDocID(accountID, bal.BalanceType)

	values := map[string]interface{}{
		"userId":        userID,
		"accountId":     accountID,
		"balanceType":   bal.BalanceType,
		"referenceDate": bal.ReferenceDate,
		"balanceAmount": bal.BalanceAmount.Amount,
		"currency":      bal.BalanceAmount.Currency,
		"createdAt":     domain.Timestamp(now),
		"updatedAt":     domain.Timestamp(now),
	}

	doc, err := a.encoder.Encode(ctx, codec.BalanceFields, values)
	if err != nil {
		return "", nil, fmt.Errorf("Balance: encode %s: %w", docID, err)
	}
	return docID, doc, nil
}
