package rules

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/nexpass/internal/domain"
)

// EvaluateCondition evaluates one condition against a transaction. A
// condition with an empty value is false for every transaction, so a
// half-filled rule form can never match everything. An unknown field or an
// operator illegal for the field type returns an error; the engine skips the
// owning rule and logs it rather than aborting the remaining rules.
func EvaluateCondition(cond domain.Condition, tx domain.Transaction) (bool, error) {
	if cond.Value == "" {
		return false, nil
	}

	switch cond.Field {
	case domain.FieldAmount:
		return evaluateAmount(cond, tx.Amount)
	case domain.FieldBookingDate:
		return evaluateDate(cond, tx.BookingDate)
	case domain.FieldCounterparty:
		return evaluateString(cond, tx.Counterparty)
	case domain.FieldDescription:
		return evaluateString(cond, tx.Description)
	case domain.FieldCategory:
		return evaluateString(cond, string(tx.Category))
	default:
		return false, fmt.Errorf("unknown condition field %q", cond.Field)
	}
}

func evaluateAmount(cond domain.Condition, amount string) (bool, error) {
	want, err := decimal.NewFromString(strings.TrimSpace(cond.Value))
	if err != nil {
		return false, fmt.Errorf("condition value %q is not a number: %w", cond.Value, err)
	}
	got, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		// Transaction has no usable amount; it simply does not match.
		return false, nil
	}
	return compareOrdered(cond.Operator, got.Cmp(want))
}

func evaluateDate(cond domain.Condition, bookingDate string) (bool, error) {
	want, err := civil.ParseDate(strings.TrimSpace(cond.Value))
	if err != nil {
		return false, fmt.Errorf("condition value %q is not a date: %w", cond.Value, err)
	}
	got, err := civil.ParseDate(strings.TrimSpace(bookingDate))
	if err != nil {
		return false, nil
	}
	// Calendar comparison, not timestamps.
	switch {
	case got.Before(want):
		return compareOrdered(cond.Operator, -1)
	case got.After(want):
		return compareOrdered(cond.Operator, 1)
	default:
		return compareOrdered(cond.Operator, 0)
	}
}

func compareOrdered(op domain.Operator, cmp int) (bool, error) {
	switch op {
	case domain.OpEquals:
		return cmp == 0, nil
	case domain.OpNotEquals:
		return cmp != 0, nil
	case domain.OpGreaterThan:
		return cmp > 0, nil
	case domain.OpLessThan:
		return cmp < 0, nil
	case domain.OpGreaterThanOrEqual:
		return cmp >= 0, nil
	case domain.OpLessThanOrEqual:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("operator %q not supported for ordered fields", op)
	}
}

func evaluateString(cond domain.Condition, value string) (bool, error) {
	want := cond.Value
	got := value
	if !cond.CaseSensitive {
		want = strings.ToLower(want)
		got = strings.ToLower(got)
	}

	switch cond.Operator {
	case domain.OpEquals:
		return got == want, nil
	case domain.OpNotEquals:
		return got != want, nil
	case domain.OpContains:
		return strings.Contains(got, want), nil
	case domain.OpNotContains:
		return !strings.Contains(got, want), nil
	case domain.OpStartsWith:
		return strings.HasPrefix(got, want), nil
	case domain.OpEndsWith:
		return strings.HasSuffix(got, want), nil
	default:
		return false, fmt.Errorf("operator %q not supported for string fields", cond.Operator)
	}
}
