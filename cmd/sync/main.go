package main

import (
	"context"
	"flag"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dvloznov/nexpass/internal/archive"
	"github.com/dvloznov/nexpass/internal/assemble"
	"github.com/dvloznov/nexpass/internal/categorize"
	"github.com/dvloznov/nexpass/internal/codec"
	"github.com/dvloznov/nexpass/internal/config"
	"github.com/dvloznov/nexpass/internal/crypto"
	"github.com/dvloznov/nexpass/internal/gocardless"
	"github.com/dvloznov/nexpass/internal/logger"
	"github.com/dvloznov/nexpass/internal/store"
	"github.com/dvloznov/nexpass/internal/syncer"
)

func main() {
	var (
		userID  = flag.String("user", "", "user id to sync")
		timeout = flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	)
	flag.Parse()

	log := logger.New()

	if *userID == "" {
		log.Fatal().Msg("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireSync(); err != nil {
		log.Fatal().Err(err).Msg("Missing sync credentials")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := store.Connect(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())

	keyVaultClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect key vault client")
	}
	defer keyVaultClient.Disconnect(context.Background())

	ce, err := mongo.NewClientEncryption(keyVaultClient, options.ClientEncryption().
		SetKeyVaultNamespace(cfg.Mongo.KeyVaultNamespace).
		SetKmsProviders(cfg.KMSProviders()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client encryption")
	}
	defer ce.Close(context.Background())

	provider := crypto.NewProvider(ce, crypto.FinderForClientEncryption(ce), cfg.MasterKey())
	encoder := codec.NewEncoder(provider)

	db := client.Database(cfg.Mongo.Database)
	st := store.New(db, encoder, provider, log)

	var classifier categorize.Classifier
	if cfg.GeminiAPIKey != "" {
		gemini, err := categorize.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, categorize.DefaultModelName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create LLM classifier")
		}
		classifier = gemini
	}
	categorizer := categorize.New(classifier, st, log)

	var archiver archive.Archiver = archive.Noop{}
	if cfg.ArchiveBucket != "" {
		gcs, err := archive.NewGCS(ctx, cfg.ArchiveBucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive client")
		}
		defer gcs.Close()
		archiver = gcs
	}

	bank := gocardless.New(cfg.GoCardlessSecretID, cfg.GoCardlessSecretKey)
	assembler := assemble.New(encoder, categorizer)

	s := syncer.New(bank, st, assembler, archiver, log)
	result, err := s.Run(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync run failed")
	}

	if result.AccountsFailed > 0 {
		log.Warn().
			Int("accounts_failed", result.AccountsFailed).
			Msg("Sync finished with partial failures")
	}
}
