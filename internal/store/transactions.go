package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dvloznov/nexpass/internal/codec"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/similar"
)

// ErrNotFound is returned when a requested document does not exist for the
// user.
var ErrNotFound = errors.New("store: not found")

// historyScanLimit caps how many recent transactions a payee-history lookup
// walks. Counterparty and description are randomly encrypted, so the match
// has to happen client-side on decrypted rows.
const historyScanLimit = 200

// InsertTransactionIfAbsent inserts a pre-encoded transaction document under
// docID. A duplicate key means the transaction was synced before; that is the
// idempotency path, not an error.
func (s *Store) InsertTransactionIfAbsent(ctx context.Context, docID string, doc bson.M) (bool, error) {
	doc["_id"] = docID
	if _, err := s.transactions().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("InsertTransactionIfAbsent: %s: %w", docID, err)
	}
	return true, nil
}

// LatestBookingDate returns the newest bookingDate stored for an account, or
// "" when the account has no transactions yet. The account filter matches on
// deterministic ciphertext; bookingDate is plaintext and sorts server-side.
func (s *Store) LatestBookingDate(ctx context.Context, userID, accountID string) (string, error) {
	accountCT, err := s.enc.EncryptDeterministic(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("LatestBookingDate: encrypt account filter: %w", err)
	}
	if accountCT == nil {
		return "", nil
	}

	opts := options.FindOne().
		SetSort(bson.D{{Key: "bookingDate", Value: -1}}).
		SetProjection(bson.M{"bookingDate": 1})

	var row struct {
		BookingDate string `bson:"bookingDate"`
	}
	err = s.transactions().
		FindOne(ctx, bson.M{"userId": userID, "accountId": *accountCT}, opts).
		Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("LatestBookingDate: %w", err)
	}
	return row.BookingDate, nil
}

// ListOptions narrows a transaction listing. From and To are inclusive
// date-only bounds on bookingDate.
type ListOptions struct {
	From            string
	To              string
	Limit           int64
	Offset          int64
	IncludeExcluded bool
}

// ListTransactions returns the user's transactions, newest booking first.
func (s *Store) ListTransactions(ctx context.Context, userID string, opt ListOptions) ([]domain.Transaction, error) {
	filter := bson.M{"userId": userID}
	if opt.From != "" || opt.To != "" {
		dateRange := bson.M{}
		if opt.From != "" {
			dateRange["$gte"] = opt.From
		}
		if opt.To != "" {
			dateRange["$lte"] = opt.To
		}
		filter["bookingDate"] = dateRange
	}
	if !opt.IncludeExcluded {
		filter["exclude"] = bson.M{"$ne": true}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "bookingDate", Value: -1}, {Key: "_id", Value: 1}})
	if opt.Limit > 0 {
		findOpts.SetLimit(opt.Limit)
	}
	if opt.Offset > 0 {
		findOpts.SetSkip(opt.Offset)
	}

	cur, err := s.transactions().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Transaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ListTransactions: decode: %w", err)
	}
	return out, nil
}

// GetTransaction fetches one transaction scoped to the user.
func (s *Store) GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := s.transactions().
		FindOne(ctx, bson.M{"_id": txID, "userId": userID}).
		Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %s: %w", txID, err)
	}
	return &tx, nil
}

// ListForRules feeds the rule engine: excluded transactions are still in
// scope because rules are allowed to flip exclusion back off.
func (s *Store) ListForRules(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	return s.ListTransactions(ctx, userID, ListOptions{
		Limit:           int64(limit),
		IncludeExcluded: true,
	})
}

// updateDocs builds the $set and $unset documents for an update. Cleared
// string fields are unset rather than stored as encrypted empties.
func (s *Store) updateDocs(ctx context.Context, update domain.TransactionUpdate, now time.Time) (bson.M, bson.M, error) {
	values := map[string]interface{}{
		"updatedAt": domain.Timestamp(now),
	}
	unset := bson.M{}

	if update.Category != nil {
		values["category"] = string(*update.Category)
	}
	if update.Exclude != nil {
		values["exclude"] = *update.Exclude
	}
	if update.Description != nil {
		if *update.Description == "" {
			unset["description"] = ""
		} else {
			values["description"] = *update.Description
		}
	}
	if update.Counterparty != nil {
		if *update.Counterparty == "" {
			unset["counterparty"] = ""
		} else {
			values["counterparty"] = *update.Counterparty
		}
	}

	set, err := s.encoder.Encode(ctx, codec.TransactionFields, values)
	if err != nil {
		return nil, nil, err
	}
	return set, unset, nil
}

// ApplyUpdate persists a transaction mutation. Mutated protected fields are
// re-encrypted through the codec before the write.
func (s *Store) ApplyUpdate(ctx context.Context, userID, txID string, update domain.TransactionUpdate) error {
	if update.IsZero() {
		return nil
	}

	set, unset, err := s.updateDocs(ctx, update, time.Now())
	if err != nil {
		return fmt.Errorf("ApplyUpdate: %s: %w", txID, err)
	}

	ops := bson.M{"$set": set}
	if len(unset) > 0 {
		ops["$unset"] = unset
	}

	res, err := s.transactions().UpdateOne(ctx, bson.M{"_id": txID, "userId": userID}, ops)
	if err != nil {
		return fmt.Errorf("ApplyUpdate: %s: %w", txID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("ApplyUpdate: %s: %w", txID, ErrNotFound)
	}
	return nil
}

// LastCategory returns the category of the most recently updated transaction
// whose normalized payee key equals payeeKey, skipping defaults.
func (s *Store) LastCategory(ctx context.Context, userID, payeeKey string) (domain.Category, bool, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(historyScanLimit)

	cur, err := s.transactions().Find(ctx, bson.M{"userId": userID}, findOpts)
	if err != nil {
		return "", false, fmt.Errorf("LastCategory: %w", err)
	}
	defer cur.Close(ctx)

	var recent []domain.Transaction
	if err := cur.All(ctx, &recent); err != nil {
		return "", false, fmt.Errorf("LastCategory: decode: %w", err)
	}

	cat, ok := latestCategoryForKey(recent, payeeKey)
	return cat, ok, nil
}

// latestCategoryForKey scans transactions in the given order and returns the
// first useful category whose payee key matches.
func latestCategoryForKey(txs []domain.Transaction, payeeKey string) (domain.Category, bool) {
	if payeeKey == "" {
		return "", false
	}
	matcher := similar.NormalizedMatcher{}
	for _, tx := range txs {
		if matcher.Key(tx) != payeeKey {
			continue
		}
		switch tx.Category {
		case "", domain.CategoryUncategorized, domain.CategoryMiscellaneous:
			continue
		}
		return tx.Category, true
	}
	return "", false
}
