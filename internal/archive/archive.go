// Package archive snapshots raw aggregator payloads to Cloud Storage before
// they are transformed, so the original data survives any assembly or
// encryption bug.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

const uploadTimeout = 30 * time.Second

// Archiver is what the sync worker uses. Noop is the disabled implementation.
type Archiver interface {
	// Snapshot stores payload under a timestamped object name. Failures are
	// the archiver's problem: implementations log and swallow them so the
	// sync never fails on archival.
	Snapshot(ctx context.Context, accountID, kind string, payload []byte)
}

// GCSArchiver writes snapshots to a bucket.
type GCSArchiver struct {
	bucket string
	client *storage.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewGCS builds an archiver over a bucket.
func NewGCS(ctx context.Context, bucket string, log zerolog.Logger) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSArchiver{bucket: bucket, client: client, log: log, now: time.Now}, nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// objectName lays snapshots out by day so retention policies can prune by
// prefix.
func (a *GCSArchiver) objectName(accountID, kind string) string {
	now := a.now().UTC()
	return fmt.Sprintf("sync/%s/%s/%s_%s.json",
		now.Format("2006-01-02"), accountID, kind, now.Format("150405"))
}

// Snapshot uploads the payload. Best effort only.
func (a *GCSArchiver) Snapshot(ctx context.Context, accountID, kind string, payload []byte) {
	if len(payload) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	name := a.objectName(accountID, kind)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		a.log.Warn().Err(err).Str("object", name).Msg("archive snapshot write failed")
		return
	}
	if err := w.Close(); err != nil {
		a.log.Warn().Err(err).Str("object", name).Msg("archive snapshot close failed")
	}
}

// Noop is the archiver used when no bucket is configured.
type Noop struct{}

func (Noop) Snapshot(context.Context, string, string, []byte) {}
