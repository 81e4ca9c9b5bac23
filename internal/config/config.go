package config

import (
	"os"
	"sort"
	"strings"
)

// Error is a fatal configuration problem: a missing connection string or KMS
// credential. It is raised once at startup and never retried.
type Error struct {
	Missing []string
}

func (e *Error) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// Mongo holds connection and key-vault settings for the document store.
type Mongo struct {
	URI               string
	Database          string
	KeyVaultNamespace string
}

// KMS holds GCP Cloud KMS credentials and the master key reference that wraps
// the data-encryption key.
type KMS struct {
	Email      string
	PrivateKey string
	ProjectID  string
	Location   string
	KeyRing    string
	KeyName    string
}

// Config is the full process configuration, read from the environment.
type Config struct {
	Mongo Mongo
	KMS   KMS

	GoCardlessSecretID  string
	GoCardlessSecretKey string

	GeminiAPIKey string

	// ArchiveBucket, when set, enables GCS snapshots of raw sync payloads.
	ArchiveBucket string
}

// Load reads configuration from the environment. Store and KMS settings are
// mandatory; aggregator and LLM credentials are validated by the components
// that need them so the API server can run without sync credentials.
func Load() (*Config, error) {
	cfg := &Config{
		Mongo: Mongo{
			URI:               os.Getenv("MONGODB_URI"),
			Database:          envOr("MONGODB_DB", "finance_dev"),
			KeyVaultNamespace: envOr("MONGODB_KEY_VAULT_NS", "encryption.__keyVault"),
		},
		KMS: KMS{
			Email:      os.Getenv("GCP_EMAIL"),
			PrivateKey: os.Getenv("GCP_PRIVATE_KEY"),
			ProjectID:  os.Getenv("GCP_PROJECT_ID"),
			Location:   os.Getenv("GCP_LOCATION"),
			KeyRing:    os.Getenv("GCP_KEY_RING"),
			KeyName:    os.Getenv("GCP_KEY_NAME"),
		},
		GoCardlessSecretID:  os.Getenv("GOCARDLESS_SECRET_ID"),
		GoCardlessSecretKey: os.Getenv("GOCARDLESS_SECRET_KEY"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		ArchiveBucket:       os.Getenv("GCS_ARCHIVE_BUCKET"),
	}

	required := map[string]string{
		"MONGODB_URI":     cfg.Mongo.URI,
		"GCP_EMAIL":       cfg.KMS.Email,
		"GCP_PRIVATE_KEY": cfg.KMS.PrivateKey,
		"GCP_PROJECT_ID":  cfg.KMS.ProjectID,
		"GCP_LOCATION":    cfg.KMS.Location,
		"GCP_KEY_RING":    cfg.KMS.KeyRing,
		"GCP_KEY_NAME":    cfg.KMS.KeyName,
	}

	var missing []string
	for name, v := range required {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		// Deterministic order for log output.
		sort.Strings(missing)
		return nil, &Error{Missing: missing}
	}
	return cfg, nil
}

// RequireSync validates the credentials the sync worker needs on top of the
// base configuration.
func (c *Config) RequireSync() error {
	var missing []string
	if c.GoCardlessSecretID == "" {
		missing = append(missing, "GOCARDLESS_SECRET_ID")
	}
	if c.GoCardlessSecretKey == "" {
		missing = append(missing, "GOCARDLESS_SECRET_KEY")
	}
	if len(missing) > 0 {
		return &Error{Missing: missing}
	}
	return nil
}

// KMSProviders renders the credentials in the shape the encryption client
// expects for the "gcp" provider.
func (c *Config) KMSProviders() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"gcp": {
			"email":      c.KMS.Email,
			"privateKey": c.KMS.PrivateKey,
		},
	}
}

// MasterKey renders the customer master key reference for data-key creation.
func (c *Config) MasterKey() map[string]interface{} {
	return map[string]interface{}{
		"projectId": c.KMS.ProjectID,
		"location":  c.KMS.Location,
		"keyRing":   c.KMS.KeyRing,
		"keyName":   c.KMS.KeyName,
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
