package domain

import (
	"fmt"
	"time"
)

// ConditionField names a transaction field a rule condition may inspect.
type ConditionField string

const (
	FieldCounterparty ConditionField = "counterparty"
	FieldDescription  ConditionField = "description"
	FieldAmount       ConditionField = "amount"
	FieldBookingDate  ConditionField = "bookingDate"
	FieldCategory     ConditionField = "category"
)

// Operator is a condition comparison operator. Which operators are legal
// depends on the field type: amount and bookingDate take the ordering
// operators, string fields take the substring operators.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
	OpGreaterThan        Operator = "greaterThan"
	OpLessThan           Operator = "lessThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
)

var stringOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
}

var orderedOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreaterThan: true, OpLessThan: true,
	OpGreaterThanOrEqual: true, OpLessThanOrEqual: true,
}

// Condition is one predicate of a rule.
type Condition struct {
	Field         ConditionField `bson:"field" json:"field"`
	Operator      Operator       `bson:"operator" json:"operator"`
	Value         string         `bson:"value" json:"value"`
	CaseSensitive bool           `bson:"caseSensitive,omitempty" json:"caseSensitive,omitempty"`
}

// ConditionLogic controls how a rule combines its conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// ActionType names a rule action variant.
type ActionType string

const (
	ActionSetCategory     ActionType = "setCategory"
	ActionSetExclude      ActionType = "setExclude"
	ActionSetDescription  ActionType = "setDescription"
	ActionSetCounterparty ActionType = "setCounterparty"
)

// Action is one field mutation a matching rule applies.
type Action struct {
	Type  ActionType `bson:"type" json:"type"`
	Value string     `bson:"value" json:"value"`
}

// TransactionRule is a user-defined condition/action rule. Priority runs
// 0-100; higher priorities are evaluated first and only the single best
// matching rule is applied to a transaction.
type TransactionRule struct {
	ID             string         `bson:"_id" json:"id"`
	UserID         string         `bson:"userId" json:"userId"`
	Name           string         `bson:"name" json:"name"`
	Description    string         `bson:"description,omitempty" json:"description,omitempty"`
	Enabled        bool           `bson:"enabled" json:"enabled"`
	Priority       int            `bson:"priority" json:"priority"`
	Conditions     []Condition    `bson:"conditions" json:"conditions"`
	ConditionLogic ConditionLogic `bson:"conditionLogic,omitempty" json:"conditionLogic,omitempty"`
	Actions        []Action       `bson:"actions" json:"actions"`
	MatchCount     int64          `bson:"matchCount" json:"matchCount"`
	LastMatched    *time.Time     `bson:"lastMatched,omitempty" json:"lastMatched,omitempty"`
	CreatedAt      time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// Logic returns the rule's condition logic, defaulting to AND.
func (r TransactionRule) Logic() ConditionLogic {
	if r.ConditionLogic == LogicOr {
		return LogicOr
	}
	return LogicAnd
}

// RuleValidationError reports why a rule was rejected at create/update time.
type RuleValidationError struct {
	Reason string
}

func (e *RuleValidationError) Error() string {
	return "invalid rule: " + e.Reason
}

// ValidateRule checks the structural invariants of a rule: at least one
// condition, at least one action, known field/operator pairs, legal priority
// and action values. A rule that fails validation is never partially saved.
func ValidateRule(r TransactionRule) error {
	if r.Name == "" {
		return &RuleValidationError{Reason: "name is required"}
	}
	if r.Priority < 0 || r.Priority > 100 {
		return &RuleValidationError{Reason: fmt.Sprintf("priority %d out of range 0-100", r.Priority)}
	}
	if len(r.Conditions) == 0 {
		return &RuleValidationError{Reason: "at least one condition is required"}
	}
	if len(r.Actions) == 0 {
		return &RuleValidationError{Reason: "at least one action is required"}
	}
	if r.ConditionLogic != "" && r.ConditionLogic != LogicAnd && r.ConditionLogic != LogicOr {
		return &RuleValidationError{Reason: fmt.Sprintf("unknown condition logic %q", r.ConditionLogic)}
	}
	for i, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return &RuleValidationError{Reason: fmt.Sprintf("condition %d: %v", i, err)}
		}
	}
	for i, a := range r.Actions {
		if err := validateAction(a); err != nil {
			return &RuleValidationError{Reason: fmt.Sprintf("action %d: %v", i, err)}
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	switch c.Field {
	case FieldCounterparty, FieldDescription, FieldCategory:
		if !stringOperators[c.Operator] {
			return fmt.Errorf("operator %q not supported for string field %q", c.Operator, c.Field)
		}
	case FieldAmount, FieldBookingDate:
		if !orderedOperators[c.Operator] {
			return fmt.Errorf("operator %q not supported for field %q", c.Operator, c.Field)
		}
	default:
		return fmt.Errorf("unknown field %q", c.Field)
	}
	return nil
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionSetCategory:
		if !IsValidCategory(a.Value) {
			return fmt.Errorf("unknown category %q", a.Value)
		}
	case ActionSetExclude:
		if a.Value != "true" && a.Value != "false" {
			return fmt.Errorf("setExclude value must be \"true\" or \"false\", got %q", a.Value)
		}
	case ActionSetDescription, ActionSetCounterparty:
		if a.Value == "" {
			return fmt.Errorf("%s requires a non-empty value", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
