package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dvloznov/nexpass/internal/domain"
)

// Rule documents carry no protected fields: conditions reference plaintext
// values the user typed, so the collection stays fully queryable.

// CreateRule validates and persists a new rule. The id is assigned here.
func (s *Store) CreateRule(ctx context.Context, userID string, rule domain.TransactionRule) (*domain.TransactionRule, error) {
	rule.UserID = userID
	if err := domain.ValidateRule(rule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.MatchCount = 0
	rule.LastMatched = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if _, err := s.rules().InsertOne(ctx, rule); err != nil {
		return nil, fmt.Errorf("CreateRule: %w", err)
	}
	return &rule, nil
}

// GetRule fetches one rule scoped to the user.
func (s *Store) GetRule(ctx context.Context, userID, ruleID string) (*domain.TransactionRule, error) {
	var rule domain.TransactionRule
	err := s.rules().
		FindOne(ctx, bson.M{"_id": ruleID, "userId": userID}).
		Decode(&rule)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRule: %s: %w", ruleID, err)
	}
	return &rule, nil
}

// ListRules returns all of the user's rules in storage order; evaluation
// order is the engine's concern.
func (s *Store) ListRules(ctx context.Context, userID string) ([]domain.TransactionRule, error) {
	cur, err := s.rules().Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.TransactionRule
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ListRules: decode: %w", err)
	}
	return out, nil
}

// UpdateRule replaces the mutable parts of a rule. It validates the merged
// result and preserves match statistics and timestamps the caller cannot set.
func (s *Store) UpdateRule(ctx context.Context, userID string, rule domain.TransactionRule) (*domain.TransactionRule, error) {
	existing, err := s.GetRule(ctx, userID, rule.ID)
	if err != nil {
		return nil, err
	}

	rule.UserID = userID
	rule.MatchCount = existing.MatchCount
	rule.LastMatched = existing.LastMatched
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := domain.ValidateRule(rule); err != nil {
		return nil, err
	}

	res, err := s.rules().ReplaceOne(ctx, bson.M{"_id": rule.ID, "userId": userID}, rule)
	if err != nil {
		return nil, fmt.Errorf("UpdateRule: %s: %w", rule.ID, err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return &rule, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, userID, ruleID string) error {
	res, err := s.rules().DeleteOne(ctx, bson.M{"_id": ruleID, "userId": userID})
	if err != nil {
		return fmt.Errorf("DeleteRule: %s: %w", ruleID, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordMatches advances a rule's match statistics after a committed
// application pass.
func (s *Store) RecordMatches(ctx context.Context, userID, ruleID string, count int64, at time.Time) error {
	if count <= 0 {
		return nil
	}
	_, err := s.rules().UpdateOne(ctx,
		bson.M{"_id": ruleID, "userId": userID},
		bson.M{
			"$inc": bson.M{"matchCount": count},
			"$set": bson.M{"lastMatched": at.UTC()},
		})
	if err != nil {
		return fmt.Errorf("RecordMatches: %s: %w", ruleID, err)
	}
	return nil
}
