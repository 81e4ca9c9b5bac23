// Package store is the MongoDB persistence layer. Writes go through the
// field codec so protected fields are explicitly encrypted before they leave
// the process; reads come back through a client configured with bypassed
// auto-encryption, which still transparently decrypts, so documents decode
// straight into the domain structs.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dvloznov/nexpass/internal/codec"
	"github.com/dvloznov/nexpass/internal/config"
)

const (
	collTransactions = "transactions"
	collBankAccounts = "bank_accounts"
	collBalances     = "balances"
	collRules        = "transaction_rules"

	connectTimeout = 10 * time.Second
)

// Connect opens a mongo client with bypassed auto-encryption: the driver
// never encrypts on write (the codec does that explicitly) but still
// decrypts protected fields on read.
func Connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	autoEnc := options.AutoEncryption().
		SetKeyVaultNamespace(cfg.Mongo.KeyVaultNamespace).
		SetKmsProviders(cfg.KMSProviders()).
		SetBypassAutoEncryption(true)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.Mongo.URI).
		SetAutoEncryptionOptions(autoEnc))
	if err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("Connect: ping: %w", err)
	}
	return client, nil
}

// Store bundles the collections and the encoder every write path shares.
type Store struct {
	db      *mongo.Database
	encoder *codec.Encoder
	enc     codec.Encrypter
	log     zerolog.Logger
}

// New builds a Store over an already-connected database.
func New(db *mongo.Database, encoder *codec.Encoder, enc codec.Encrypter, log zerolog.Logger) *Store {
	return &Store{db: db, encoder: encoder, enc: enc, log: log}
}

func (s *Store) transactions() *mongo.Collection { return s.db.Collection(collTransactions) }
func (s *Store) bankAccounts() *mongo.Collection { return s.db.Collection(collBankAccounts) }
func (s *Store) balances() *mongo.Collection     { return s.db.Collection(collBalances) }
func (s *Store) rules() *mongo.Collection        { return s.db.Collection(collRules) }
