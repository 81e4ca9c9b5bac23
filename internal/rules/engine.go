package rules

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/dvloznov/nexpass/internal/domain"
)

// Engine evaluates rules against decrypted transaction views. It is a pure
// function over its inputs and needs no synchronization; concurrent
// invocations for different transactions are independent.
type Engine struct {
	log zerolog.Logger
}

// NewEngine builds an Engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// Match reports whether the rule matches the transaction, combining its
// conditions with the rule's AND/OR logic. A condition evaluation error makes
// the whole rule unusable for this transaction.
func (e *Engine) Match(rule domain.TransactionRule, tx domain.Transaction) (bool, error) {
	if len(rule.Conditions) == 0 {
		return false, nil
	}

	logic := rule.Logic()
	for _, cond := range rule.Conditions {
		ok, err := EvaluateCondition(cond, tx)
		if err != nil {
			return false, err
		}
		if logic == domain.LogicAnd && !ok {
			return false, nil
		}
		if logic == domain.LogicOr && ok {
			return true, nil
		}
	}
	// AND: every condition passed. OR: none did.
	return logic == domain.LogicAnd, nil
}

// BestMatch returns the single rule that should apply to tx: enabled rules
// are ordered by descending priority (stable, so ties keep their original
// order) and the first match wins. Lower-priority matches are never applied
// on top; only one rule ever mutates a transaction. A rule that fails to
// evaluate is logged and skipped so one bad rule cannot block the rest.
func (e *Engine) BestMatch(tx domain.Transaction, ruleSet []domain.TransactionRule) *domain.TransactionRule {
	enabled := make([]domain.TransactionRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})

	for i := range enabled {
		ok, err := e.Match(enabled[i], tx)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("rule_id", enabled[i].ID).
				Str("transaction_id", tx.ID).
				Msg("Skipping malformed rule")
			continue
		}
		if ok {
			return &enabled[i]
		}
	}
	return nil
}

// Apply runs BestMatch and applies the winning rule's actions in array order,
// returning the mutated view and the matched rule's id. When nothing matches
// the transaction is returned unchanged with an empty rule id.
func (e *Engine) Apply(tx domain.Transaction, ruleSet []domain.TransactionRule) (domain.Transaction, string) {
	rule := e.BestMatch(tx, ruleSet)
	if rule == nil {
		return tx, ""
	}
	return ApplyActions(tx, rule.Actions), rule.ID
}

// ApplyActions applies each action in order to a copy of tx. Each action type
// is a direct field assignment.
func ApplyActions(tx domain.Transaction, actions []domain.Action) domain.Transaction {
	for _, a := range actions {
		switch a.Type {
		case domain.ActionSetCategory:
			if cat, ok := domain.ParseCategory(a.Value); ok {
				tx.Category = cat
			}
		case domain.ActionSetExclude:
			tx.Exclude = a.Value == "true"
		case domain.ActionSetDescription:
			tx.Description = a.Value
		case domain.ActionSetCounterparty:
			tx.Counterparty = a.Value
		}
	}
	return tx
}

// UpdateFromActions converts a rule's actions into a storage-level update.
func UpdateFromActions(actions []domain.Action) domain.TransactionUpdate {
	var u domain.TransactionUpdate
	for _, a := range actions {
		switch a.Type {
		case domain.ActionSetCategory:
			if cat, ok := domain.ParseCategory(a.Value); ok {
				c := cat
				u.Category = &c
			}
		case domain.ActionSetExclude:
			v := a.Value == "true"
			u.Exclude = &v
		case domain.ActionSetDescription:
			v := a.Value
			u.Description = &v
		case domain.ActionSetCounterparty:
			v := a.Value
			u.Counterparty = &v
		}
	}
	return u
}

// Changes reports whether applying u to tx would modify it.
func Changes(tx domain.Transaction, u domain.TransactionUpdate) bool {
	if u.Category != nil && tx.Category != *u.Category {
		return true
	}
	if u.Exclude != nil && tx.Exclude != *u.Exclude {
		return true
	}
	if u.Description != nil && tx.Description != *u.Description {
		return true
	}
	if u.Counterparty != nil && tx.Counterparty != *u.Counterparty {
		return true
	}
	return false
}
