package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dvloznov/nexpass/internal/api/handlers"
	"github.com/dvloznov/nexpass/internal/categorize"
	"github.com/dvloznov/nexpass/internal/codec"
	"github.com/dvloznov/nexpass/internal/config"
	"github.com/dvloznov/nexpass/internal/crypto"
	"github.com/dvloznov/nexpass/internal/logger"
	"github.com/dvloznov/nexpass/internal/rules"
	"github.com/dvloznov/nexpass/internal/store"
)

func main() {
	port := flag.String("port", "8080", "HTTP server port")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	// Data client: bypassed auto-encryption, transparent decryption on read.
	client, err := store.Connect(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())

	// Key vault client stays plain; explicit encryption goes through it.
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
	} else {
		log.Warn().Msg("No Gemini API key configured - categorization runs without the LLM step")
	}
	categorizer := categorize.New(classifier, st, log)

	ruleService := rules.NewService(rules.NewEngine(log), st, st, log)

	txHandler := handlers.NewTransactionsHandler(st, categorizer, log)
	ruleHandler := handlers.NewRulesHandler(st, ruleService, log)

	router := handlers.NewRouter(txHandler, ruleHandler, pinger{client}, log)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// pinger adapts the mongo client to the health check.
type pinger struct {
	client *mongo.Client
}

func (p pinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}
