package rules

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/nexpass/internal/domain"
)

type memTransactionStore struct {
	mu  sync.Mutex
	txs []domain.Transaction
}

func (m *memTransactionStore) ListForRules(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memTransactionStore) ApplyUpdate(ctx context.Context, userID, txID string, update domain.TransactionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.txs {
		if m.txs[i].ID != txID || m.txs[i].UserID != userID {
			continue
		}
		if update.Category != nil {
			m.txs[i].Category = *update.Category
		}
		if update.Exclude != nil {
			m.txs[i].Exclude = *update.Exclude
		}
		if update.Description != nil {
			m.txs[i].Description = *update.Description
		}
		if update.Counterparty != nil {
			m.txs[i].Counterparty = *update.Counterparty
		}
		return nil
	}
	return fmt.Errorf("transaction %s not found", txID)
}

type memRuleStore struct {
	mu      sync.Mutex
	rules   []domain.TransactionRule
	records map[string]int64
}

func (m *memRuleStore) ListRules(ctx context.Context, userID string) ([]domain.TransactionRule, error) {
	return m.rules, nil
}

func (m *memRuleStore) GetRule(ctx context.Context, userID, ruleID string) (*domain.TransactionRule, error) {
	for i := range m.rules {
		if m.rules[i].ID == ruleID {
			r := m.rules[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("rule %s not found", ruleID)
}

func (m *memRuleStore) RecordMatches(ctx context.Context, userID, ruleID string, count int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]int64)
	}
	m.records[ruleID] += count
	return nil
}

func serviceFixture() (*Service, *memTransactionStore, *memRuleStore) {
	txs := &memTransactionStore{txs: []domain.Transaction{
		{ID: "t1", UserID: "u1", Counterparty: "Netflix", Amount: "-9.99", Category: domain.CategoryUncategorized},
		{ID: "t2", UserID: "u1", Counterparty: "ALDI", Amount: "-30.00", Category: domain.CategoryGroceries},
		{ID: "t3", UserID: "u1", Counterparty: "Netflix", Amount: "-9.99", Category: domain.CategoryEntertainment},
	}}
	ruleStore := &memRuleStore{rules: []domain.TransactionRule{
		{
			ID: "r-netflix", UserID: "u1", Name: "Netflix", Enabled: true, Priority: 80,
			Conditions: []domain.Condition{cond(domain.FieldCounterparty, domain.OpContains, "netflix")},
			Actions:    []domain.Action{{Type: domain.ActionSetCategory, Value: "Entertainment"}},
		},
	}}
	svc := NewService(newTestEngine(), txs, ruleStore, zerolog.Nop())
	return svc, txs, ruleStore
}

func TestApplyAllDryRunMutatesNothing(t *testing.T) {
	svc, txs, ruleStore := serviceFixture()
	before := append([]domain.Transaction(nil), txs.txs...)

	res, err := svc.ApplyAll(context.Background(), "u1", true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Matched)
	// t3 already has the target category, so only t1 would change.
	assert.Equal(t, 1, res.Modified)

	assert.Equal(t, before, txs.txs, "dry-run must not mutate transactions")
	assert.Empty(t, ruleStore.records, "dry-run must not advance match counters")
}

func TestApplyAllCommit(t *testing.T) {
	svc, txs, ruleStore := serviceFixture()

	res, err := svc.ApplyAll(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Modified)

	assert.Equal(t, domain.CategoryEntertainment, txs.txs[0].Category)
	assert.Equal(t, domain.CategoryGroceries, txs.txs[1].Category)
	assert.Equal(t, int64(2), ruleStore.records["r-netflix"])
}

func TestApplyRuleRunsOnlyNamedRule(t *testing.T) {
	svc, _, ruleStore := serviceFixture()
	ruleStore.rules = append(ruleStore.rules, domain.TransactionRule{
		ID: "r-groceries", UserID: "u1", Name: "Groceries", Enabled: true, Priority: 90,
		Conditions: []domain.Condition{cond(domain.FieldCounterparty, domain.OpContains, "aldi")},
		Actions:    []domain.Action{{Type: domain.ActionSetExclude, Value: "true"}},
	})

	res, err := svc.ApplyRule(context.Background(), "u1", "r-groceries", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, int64(1), ruleStore.records["r-groceries"])
	_, ok := ruleStore.records["r-netflix"]
	assert.False(t, ok)
}

func TestTestRuleReportsCountsWithoutPersisting(t *testing.T) {
	svc, txs, ruleStore := serviceFixture()
	before := append([]domain.Transaction(nil), txs.txs...)

	candidate := domain.TransactionRule{
		Name: "candidate", Priority: 10,
		Conditions: []domain.Condition{cond(domain.FieldCounterparty, domain.OpContains, "netflix")},
		Actions:    []domain.Action{{Type: domain.ActionSetCategory, Value: "Entertainment"}},
	}

	res, err := svc.TestRule(context.Background(), "u1", candidate)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalMatched)
	assert.Equal(t, 3, res.SampleSize)

	assert.Equal(t, before, txs.txs)
	assert.Empty(t, ruleStore.records)
}

func TestTestRuleRejectsInvalidRule(t *testing.T) {
	svc, _, _ := serviceFixture()

	_, err := svc.TestRule(context.Background(), "u1", domain.TransactionRule{Name: "empty"})
	require.Error(t, err)
	var verr *domain.RuleValidationError
	assert.ErrorAs(t, err, &verr)
}
