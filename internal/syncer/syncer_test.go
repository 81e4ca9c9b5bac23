package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/dvloznov/nexpass/internal/archive"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/gocardless"
)

type fakeBank struct {
	txs      map[string][]gocardless.Transaction
	balances map[string][]gocardless.Balance
	txErr    map[string]error
	dateFrom map[string]string
}

func (b *fakeBank) Transactions(_ context.Context, accountID, dateFrom string) ([]gocardless.Transaction, error) {
	if b.dateFrom == nil {
		b.dateFrom = map[string]string{}
	}
	b.dateFrom[accountID] = dateFrom
	if err := b.txErr[accountID]; err != nil {
		return nil, err
	}
	return b.txs[accountID], nil
}

func (b *fakeBank) Balances(_ context.Context, accountID string) ([]gocardless.Balance, error) {
	return b.balances[accountID], nil
}

type fakeStore struct {
	accounts []domain.BankAccount
	latest   map[string]string

	insertedTx []string
	existing   map[string]bool
	balances   []string
}

func (s *fakeStore) ListActiveAccounts(context.Context, string) ([]domain.BankAccount, error) {
	return s.accounts, nil
}

func (s *fakeStore) LatestBookingDate(_ context.Context, _, accountID string) (string, error) {
	return s.latest[accountID], nil
}

func (s *fakeStore) InsertTransactionIfAbsent(_ context.Context, docID string, _ bson.M) (bool, error) {
	if s.existing[docID] {
		return false, nil
	}
	s.insertedTx = append(s.insertedTx, docID)
	return true, nil
}

func (s *fakeStore) UpsertBalance(_ context.Context, docID string, _ bson.M) error {
	s.balances = append(s.balances, docID)
	return nil
}

type fakeAssembler struct{}

func (fakeAssembler) Transaction(_ context.Context, _, accountID string, tx gocardless.Transaction, _ time.Time) (string, bson.M, error) {
	return accountID + ":" + tx.ProviderID(), bson.M{}, nil
}

func (fakeAssembler) Balance(_ context.Context, _, accountID string, bal gocardless.Balance, _ time.Time) (string, bson.M, error) {
	return accountID + "_" + bal.BalanceType, bson.M{}, nil
}

func tx(id string) gocardless.Transaction {
	return gocardless.Transaction{TransactionID: id}
}

func TestRunSyncsAccountsAndSkipsDuplicates(t *testing.T) {
	bank := &fakeBank{
		txs: map[string][]gocardless.Transaction{
			"acc-1": {tx("t1"), tx("t2")},
		},
		balances: map[string][]gocardless.Balance{
			"acc-1": {{BalanceType: "expected"}},
		},
	}
	store := &fakeStore{
		accounts: []domain.BankAccount{{AccountID: "acc-1"}},
		latest:   map[string]string{"acc-1": "2024-03-01"},
		existing: map[string]bool{"acc-1:t1": true},
	}

	s := New(bank, store, fakeAssembler{}, archive.Noop{}, zerolog.Nop())
	res, err := s.Run(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, res.AccountsProcessed)
	assert.Equal(t, 0, res.AccountsFailed)
	assert.Equal(t, 1, res.TransactionsSynced)
	assert.Equal(t, 1, res.BalancesSynced)
	assert.Equal(t, []string{"acc-1:t2"}, store.insertedTx)
	assert.Equal(t, "2024-03-01", bank.dateFrom["acc-1"], "incremental window starts at the stored latest booking date")
}

func TestRunIsolatesAccountFailures(t *testing.T) {
	bank := &fakeBank{
		txs: map[string][]gocardless.Transaction{
			"acc-good": {tx("t1")},
		},
		txErr: map[string]error{
			"acc-bad": errors.New("aggregator unavailable"),
		},
	}
	store := &fakeStore{
		accounts: []domain.BankAccount{{AccountID: "acc-bad"}, {AccountID: "acc-good"}},
	}

	s := New(bank, store, fakeAssembler{}, archive.Noop{}, zerolog.Nop())
	res, err := s.Run(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, res.AccountsProcessed)
	assert.Equal(t, 1, res.AccountsFailed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "acc-bad", res.Failures[0].AccountID)
	assert.Contains(t, res.Failures[0].Error, "aggregator unavailable")
	assert.Equal(t, []string{"acc-good:t1"}, store.insertedTx)
}

func TestRunCapsIntakePerAccount(t *testing.T) {
	var many []gocardless.Transaction
	for i := 0; i < maxTransactionsPerAccount+20; i++ {
		many = append(many, tx(fmt.Sprintf("t%03d", i)))
	}
	bank := &fakeBank{txs: map[string][]gocardless.Transaction{"acc-1": many}}
	store := &fakeStore{accounts: []domain.BankAccount{{AccountID: "acc-1"}}}

	s := New(bank, store, fakeAssembler{}, archive.Noop{}, zerolog.Nop())
	res, err := s.Run(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, maxTransactionsPerAccount, res.TransactionsSynced)
	assert.Len(t, store.insertedTx, maxTransactionsPerAccount)
}

func TestDateFromDefaultsToLookback(t *testing.T) {
	store := &fakeStore{}
	s := New(&fakeBank{}, store, fakeAssembler{}, archive.Noop{}, zerolog.Nop())
	s.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	from, err := s.dateFrom(context.Background(), "user-1", "acc-fresh")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03", from)
}
