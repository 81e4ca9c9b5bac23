package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/nexpass/internal/domain"
)

// applyConcurrency bounds parallel per-transaction update writes during bulk
// application; each write re-encrypts mutated fields through the KMS.
const applyConcurrency = 8

// testSampleSize caps how many stored transactions a candidate rule is tested
// against.
const testSampleSize = 100

// bulkScanLimit caps how many transactions a bulk apply walks in one request.
const bulkScanLimit = 2000

// TransactionStore is what the service needs from persistence on the
// transaction side.
type TransactionStore interface {
	ListForRules(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	ApplyUpdate(ctx context.Context, userID, txID string, update domain.TransactionUpdate) error
}

// RuleStore is what the service needs from persistence on the rule side.
type RuleStore interface {
	ListRules(ctx context.Context, userID string) ([]domain.TransactionRule, error)
	GetRule(ctx context.Context, userID, ruleID string) (*domain.TransactionRule, error)
	RecordMatches(ctx context.Context, userID, ruleID string, count int64, at time.Time) error
}

// ApplyResult summarizes one bulk application pass.
type ApplyResult struct {
	DryRun      bool             `json:"dryRun"`
	Processed   int              `json:"processed"`
	Matched     int              `json:"matched"`
	Modified    int              `json:"modified"`
	RuleMatches map[string]int64 `json:"ruleMatches,omitempty"`
}

// TestResult reports how a candidate rule behaves against a sample of stored
// transactions.
type TestResult struct {
	TotalMatched int `json:"totalMatched"`
	SampleSize   int `json:"sampleSize"`
}

// Service runs the rule engine against stored transactions. Rule matchCount
// and lastMatched advance only on committed application, never on dry-run or
// test.
type Service struct {
	engine *Engine
	txs    TransactionStore
	rules  RuleStore
	log    zerolog.Logger
	now    func() time.Time
}

// NewService builds a Service.
func NewService(engine *Engine, txs TransactionStore, rules RuleStore, log zerolog.Logger) *Service {
	return &Service{
		engine: engine,
		txs:    txs,
		rules:  rules,
		log:    log,
		now:    time.Now,
	}
}

// ApplyAll evaluates every enabled rule against the user's transactions.
// With dryRun it only reports what would change; otherwise matching
// transactions are mutated and the winning rules' match counters advance.
func (s *Service) ApplyAll(ctx context.Context, userID string, dryRun bool) (*ApplyResult, error) {
	ruleSet, err := s.rules.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ApplyAll: list rules: %w", err)
	}
	return s.apply(ctx, userID, ruleSet, dryRun)
}

// ApplyRule evaluates one saved rule (by id) against the user's transactions.
func (s *Service) ApplyRule(ctx context.Context, userID, ruleID string, dryRun bool) (*ApplyResult, error) {
	rule, err := s.rules.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("ApplyRule: get rule: %w", err)
	}
	// Run the named rule even when disabled; the caller asked for it
	// explicitly.
	r := *rule
	r.Enabled = true
	return s.apply(ctx, userID, []domain.TransactionRule{r}, dryRun)
}

// TestRule runs an unsaved candidate rule against a sample of transactions
// and reports match counts. Nothing is persisted.
func (s *Service) TestRule(ctx context.Context, userID string, rule domain.TransactionRule) (*TestResult, error) {
	if err := domain.ValidateRule(rule); err != nil {
		return nil, err
	}
	sample, err := s.txs.ListForRules(ctx, userID, testSampleSize)
	if err != nil {
		return nil, fmt.Errorf("TestRule: list transactions: %w", err)
	}

	matched := 0
	for _, tx := range sample {
		ok, err := s.engine.Match(rule, tx)
		if err != nil {
			return nil, fmt.Errorf("TestRule: %w", err)
		}
		if ok {
			matched++
		}
	}
	return &TestResult{TotalMatched: matched, SampleSize: len(sample)}, nil
}

func (s *Service) apply(ctx context.Context, userID string, ruleSet []domain.TransactionRule, dryRun bool) (*ApplyResult, error) {
	txs, err := s.txs.ListForRules(ctx, userID, bulkScanLimit)
	if err != nil {
		return nil, fmt.Errorf("apply: list transactions: %w", err)
	}

	result := &ApplyResult{
		DryRun:      dryRun,
		Processed:   len(txs),
		RuleMatches: make(map[string]int64),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(applyConcurrency)

	for _, tx := range txs {
		tx := tx
		rule := s.engine.BestMatch(tx, ruleSet)
		if rule == nil {
			continue
		}
		update := UpdateFromActions(rule.Actions)
		changes := Changes(tx, update)

		mu.Lock()
		result.Matched++
		result.RuleMatches[rule.ID]++
		if changes {
			result.Modified++
		}
		mu.Unlock()

		if dryRun || !changes {
			continue
		}
		g.Go(func() error {
			if err := s.txs.ApplyUpdate(gctx, userID, tx.ID, update); err != nil {
				return fmt.Errorf("apply: update transaction %s: %w", tx.ID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !dryRun {
		at := s.now()
		for ruleID, count := range result.RuleMatches {
			if err := s.rules.RecordMatches(ctx, userID, ruleID, count, at); err != nil {
				// Counter drift is tolerable; the mutations are already
				// committed.
				s.log.Warn().Err(err).Str("rule_id", ruleID).Msg("Failed to record rule matches")
			}
		}
	}
	return result, nil
}
