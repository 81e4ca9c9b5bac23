package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dvloznov/nexpass/internal/domain"
)

// accountScanLimit bounds how many linked accounts one sync run considers.
const accountScanLimit = 50

// UpsertBankAccount writes a pre-encoded bank account document under docID,
// replacing any previous version of the same account.
func (s *Store) UpsertBankAccount(ctx context.Context, docID string, doc bson.M) error {
	doc["_id"] = docID
	_, err := s.bankAccounts().
		ReplaceOne(ctx, bson.M{"_id": docID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("UpsertBankAccount: %s: %w", docID, err)
	}
	return nil
}

// ListActiveAccounts returns the user's linked accounts that are still
// syncable. Status is randomly encrypted, so expired accounts are filtered
// after decryption rather than in the query.
func (s *Store) ListActiveAccounts(ctx context.Context, userID string) ([]domain.BankAccount, error) {
	cur, err := s.bankAccounts().Find(ctx, bson.M{"userId": userID},
		options.Find().SetLimit(accountScanLimit))
	if err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: %w", err)
	}
	defer cur.Close(ctx)

	var all []domain.BankAccount
	if err := cur.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: decode: %w", err)
	}

	active := all[:0]
	for _, acc := range all {
		if acc.Status == "expired" || acc.Status == "suspended" {
			continue
		}
		active = append(active, acc)
	}
	return active, nil
}

// UpsertBalance writes a balance snapshot in place. One document exists per
// (account, balanceType); createdAt survives the first insert, everything
// else tracks the latest sync.
func (s *Store) UpsertBalance(ctx context.Context, docID string, doc bson.M) error {
	set := bson.M{}
	for k, v := range doc {
		if k == "createdAt" {
			continue
		}
		set[k] = v
	}

	update := bson.M{"$set": set}
	if createdAt, ok := doc["createdAt"]; ok {
		update["$setOnInsert"] = bson.M{"createdAt": createdAt}
	}

	_, err := s.balances().
		UpdateOne(ctx, bson.M{"_id": docID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("UpsertBalance: %s: %w", docID, err)
	}
	return nil
}

// ListBalances returns the user's balance snapshots.
func (s *Store) ListBalances(ctx context.Context, userID string) ([]domain.Balance, error) {
	cur, err := s.balances().Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("ListBalances: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Balance
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ListBalances: decode: %w", err)
	}
	return out, nil
}
