// Package syncer orchestrates one sync run: for every active linked account,
// pull new transactions and current balances from the aggregator, assemble
// and encrypt them, and persist. One failing account never aborts the run.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/dvloznov/nexpass/internal/archive"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/gocardless"
)

const (
	// maxTransactionsPerAccount caps one run's intake per account; anything
	// beyond the cap is picked up by the next run.
	maxTransactionsPerAccount = 50

	// defaultLookback bounds the first sync of an account with no stored
	// transactions.
	defaultLookback = 90 * 24 * time.Hour
)

// Bank is the aggregator surface the syncer needs.
type Bank interface {
	Transactions(ctx context.Context, accountID, dateFrom string) ([]gocardless.Transaction, error)
	Balances(ctx context.Context, accountID string) ([]gocardless.Balance, error)
}

// Store is the persistence surface the syncer needs.
type Store interface {
	ListActiveAccounts(ctx context.Context, userID string) ([]domain.BankAccount, error)
	LatestBookingDate(ctx context.Context, userID, accountID string) (string, error)
	InsertTransactionIfAbsent(ctx context.Context, docID string, doc bson.M) (bool, error)
	UpsertBalance(ctx context.Context, docID string, doc bson.M) error
}

// Assembler builds persistable documents from aggregator payloads.
type Assembler interface {
	Transaction(ctx context.Context, userID, accountID string, tx gocardless.Transaction, now time.Time) (string, bson.M, error)
	Balance(ctx context.Context, userID, accountID string, bal gocardless.Balance, now time.Time) (string, bson.M, error)
}

// AccountFailure records why one account's sync failed.
type AccountFailure struct {
	AccountID string `json:"accountId"`
	Error     string `json:"error"`
}

// Result summarizes a run. A run with failures is a partial success, not an
// error.
type Result struct {
	AccountsProcessed  int              `json:"accountsProcessed"`
	AccountsFailed     int              `json:"accountsFailed"`
	TransactionsSynced int              `json:"transactionsSynced"`
	BalancesSynced     int              `json:"balancesSynced"`
	Failures           []AccountFailure `json:"failures,omitempty"`
}

// Syncer runs sync passes.
type Syncer struct {
	bank     Bank
	store    Store
	assemble Assembler
	archiver archive.Archiver
	log      zerolog.Logger
	now      func() time.Time
}

// New builds a Syncer. archiver may be archive.Noop{}.
func New(bank Bank, store Store, assemble Assembler, archiver archive.Archiver, log zerolog.Logger) *Syncer {
	return &Syncer{
		bank:     bank,
		store:    store,
		assemble: assemble,
		archiver: archiver,
		log:      log,
		now:      time.Now,
	}
}

// Run syncs every active account of the user sequentially. Account failures
// are collected into the result; Run itself fails only when the account list
// cannot be loaded.
func (s *Syncer) Run(ctx context.Context, userID string) (*Result, error) {
	accounts, err := s.store.ListActiveAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Run: list accounts: %w", err)
	}

	res := &Result{}
	for _, acc := range accounts {
		txCount, balCount, err := s.syncAccount(ctx, userID, acc.AccountID)
		if err != nil {
			res.AccountsFailed++
			res.Failures = append(res.Failures, AccountFailure{
				AccountID: acc.AccountID,
				Error:     err.Error(),
			})
			s.log.Error().Err(err).Str("account_id", acc.AccountID).Msg("account sync failed")
			continue
		}
		res.AccountsProcessed++
		res.TransactionsSynced += txCount
		res.BalancesSynced += balCount
	}

	s.log.Info().
		Int("accounts_processed", res.AccountsProcessed).
		Int("accounts_failed", res.AccountsFailed).
		Int("transactions_synced", res.TransactionsSynced).
		Int("balances_synced", res.BalancesSynced).
		Msg("sync run finished")
	return res, nil
}

// dateFrom picks the incremental window start: the newest stored booking
// date, or the default lookback for a fresh account.
func (s *Syncer) dateFrom(ctx context.Context, userID, accountID string) (string, error) {
	latest, err := s.store.LatestBookingDate(ctx, userID, accountID)
	if err != nil {
		return "", err
	}
	if latest != "" {
		return latest, nil
	}
	return s.now().Add(-defaultLookback).UTC().Format(time.DateOnly), nil
}

func (s *Syncer) syncAccount(ctx context.Context, userID, accountID string) (int, int, error) {
	from, err := s.dateFrom(ctx, userID, accountID)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve sync window: %w", err)
	}

	txs, err := s.bank.Transactions(ctx, accountID, from)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch transactions: %w", err)
	}
	s.archiveRaw(ctx, accountID, "transactions", rawPayload(txs))

	if len(txs) > maxTransactionsPerAccount {
		s.log.Warn().
			Str("account_id", accountID).
			Int("fetched", len(txs)).
			Int("cap", maxTransactionsPerAccount).
			Msg("transaction intake capped for this run")
		txs = txs[:maxTransactionsPerAccount]
	}

	now := s.now()
	inserted := 0
	for _, tx := range txs {
		docID, doc, err := s.assemble.Transaction(ctx, userID, accountID, tx, now)
		if err != nil {
			return inserted, 0, err
		}
		ok, err := s.store.InsertTransactionIfAbsent(ctx, docID, doc)
		if err != nil {
			return inserted, 0, err
		}
		if ok {
			inserted++
		}
	}

	balances, err := s.bank.Balances(ctx, accountID)
	if err != nil {
		return inserted, 0, fmt.Errorf("fetch balances: %w", err)
	}

	balCount := 0
	for _, bal := range balances {
		docID, doc, err := s.assemble.Balance(ctx, userID, accountID, bal, now)
		if err != nil {
			return inserted, balCount, err
		}
		if err := s.store.UpsertBalance(ctx, docID, doc); err != nil {
			return inserted, balCount, err
		}
		balCount++
	}
	return inserted, balCount, nil
}

func (s *Syncer) archiveRaw(ctx context.Context, accountID, kind string, payload []byte) {
	if s.archiver == nil || len(payload) == 0 {
		return
	}
	s.archiver.Snapshot(ctx, accountID, kind, payload)
}

// rawPayload rebuilds the original transaction JSON array for archival.
func rawPayload(txs []gocardless.Transaction) []byte {
	if len(txs) == 0 {
		return nil
	}
	raws := make([]json.RawMessage, 0, len(txs))
	for _, tx := range txs {
		if len(tx.Raw) > 0 {
			raws = append(raws, tx.Raw)
		}
	}
	payload, err := json.Marshal(raws)
	if err != nil {
		return nil
	}
	return payload
}
