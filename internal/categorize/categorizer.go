// Package categorize assigns a category to a transaction from its plaintext
// fields: previously used categories for the same payee first, then keyword
// heuristics, then an LLM classifier constrained to the closed taxonomy.
// Categorization always happens before field encryption.
package categorize

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/similar"
)

// Input carries the plaintext fields categorization may inspect.
type Input struct {
	UserID       string
	Description  string
	Counterparty string
	Amount       string
	Currency     string
}

// Classifier is the LLM fallback. Implementations must constrain output to
// the closed category list.
type Classifier interface {
	Classify(ctx context.Context, in Input) (domain.Category, error)
}

// History looks up the most recent non-default category a user assigned to
// the same normalized payee key.
type History interface {
	LastCategory(ctx context.Context, userID, payeeKey string) (domain.Category, bool, error)
}

// Categorizer runs the three-step categorization. Both llm and history are
// optional; a nil step is skipped.
type Categorizer struct {
	llm     Classifier
	history History
	matcher similar.Matcher
	log     zerolog.Logger
}

// New builds a Categorizer.
func New(llm Classifier, history History, log zerolog.Logger) *Categorizer {
	return &Categorizer{
		llm:     llm,
		history: history,
		matcher: similar.NormalizedMatcher{},
		log:     log,
	}
}

// Suggest returns the category for the input. fallback is what an unresolvable
// transaction ends up as: the background sync path passes Miscellaneous so
// re-scans do not hit the LLM for the same transaction forever, while the
// interactive path passes Uncategorized and leaves the item for the user.
// Errors from the history lookup or the LLM are logged and swallowed; Suggest
// never fails a request.
func (c *Categorizer) Suggest(ctx context.Context, in Input, fallback domain.Category) domain.Category {
	if c.history != nil {
		if key := c.payeeKey(in); key != "" {
			cat, ok, err := c.history.LastCategory(ctx, in.UserID, key)
			if err != nil {
				c.log.Warn().Err(err).Msg("category history lookup failed")
			} else if ok && cat != domain.CategoryUncategorized && cat != "" {
				return cat
			}
		}
	}

	if cat := Heuristic(in.Description, in.Counterparty, in.Amount); cat != domain.CategoryUncategorized {
		return cat
	}

	if c.llm != nil {
		cat, err := c.llm.Classify(ctx, in)
		if err != nil {
			c.log.Warn().Err(err).Msg("llm classification failed, using fallback")
			return fallback
		}
		if cat != "" && cat != domain.CategoryUncategorized {
			return cat
		}
	}
	return fallback
}

func (c *Categorizer) payeeKey(in Input) string {
	return c.matcher.Key(domain.Transaction{
		Counterparty: in.Counterparty,
		Description:  in.Description,
	})
}

// Heuristic classifies from keywords alone. The description and counterparty
// are lowercased and concatenated; the first keyword group that matches wins.
// A strictly positive amount with no keyword hit is Income.
func Heuristic(description, counterparty, amount string) domain.Category {
	text := strings.ToLower(counterparty + " " + description)

	for _, group := range keywordGroups {
		for _, word := range group.words {
			if strings.Contains(text, word) {
				return group.category
			}
		}
	}

	if amt, err := decimal.NewFromString(strings.TrimSpace(amount)); err == nil && amt.IsPositive() {
		return domain.CategoryIncome
	}
	return domain.CategoryUncategorized
}
