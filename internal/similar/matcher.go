// Package similar answers "which other transactions should change when this
// one changes". The same matcher backs the bulk "apply to similar" edit flow
// and the categorizer's previous-category reuse, so there is exactly one
// definition of similarity.
package similar

import (
	"strings"

	"github.com/dvloznov/nexpass/internal/domain"
)

// Matcher decides whether two transactions belong to the same merchant for
// bulk-edit purposes.
type Matcher interface {
	Similar(a, b domain.Transaction) bool
	// Key returns the canonical lookup key for a transaction, usable for
	// grouping and for "most recent match wins" category reuse.
	Key(tx domain.Transaction) string
}

// NormalizedMatcher matches on normalized counterparty equality, falling back
// to normalized description when a transaction has no counterparty.
type NormalizedMatcher struct{}

// Normalize lowercases, trims and collapses inner whitespace so
// "STARBUCKS  #445 " and "starbucks #445" compare equal.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Key implements Matcher.
func (NormalizedMatcher) Key(tx domain.Transaction) string {
	if k := Normalize(tx.Counterparty); k != "" {
		return k
	}
	return Normalize(tx.Description)
}

// Similar implements Matcher. Two transactions with empty keys are never
// similar; an empty key would otherwise group every payee-less transaction.
func (m NormalizedMatcher) Similar(a, b domain.Transaction) bool {
	ka, kb := m.Key(a), m.Key(b)
	return ka != "" && ka == kb
}
