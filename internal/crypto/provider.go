package crypto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultKeyAltName is the fixed alternate name the process-wide
	// data-encryption key is registered under in the key vault.
	DefaultKeyAltName = "nexpass-data-key"

	algorithmDeterministic = "AEAD_AES_256_CBC_HMAC_SHA_512-Deterministic"
	algorithmRandom        = "AEAD_AES_256_CBC_HMAC_SHA_512-Random"

	kmsProviderGCP = "gcp"

	maxEncryptRetries = 2
)

// ErrKeyNotFound is returned by a KeyFinder when no data key carries the
// requested alt name.
var ErrKeyNotFound = errors.New("data key not found")

// Service is the subset of the driver's ClientEncryption the provider needs.
// *mongo.ClientEncryption satisfies it; tests substitute an in-memory fake so
// the crypto pipeline can be exercised without libmongocrypt.
type Service interface {
	CreateDataKey(ctx context.Context, kmsProvider string, opts ...*options.DataKeyOptions) (primitive.Binary, error)
	Encrypt(ctx context.Context, val bson.RawValue, opts ...*options.EncryptOptions) (primitive.Binary, error)
	Decrypt(ctx context.Context, val primitive.Binary) (bson.RawValue, error)
}

// KeyFinder looks up a data key id by alt name, returning ErrKeyNotFound when
// absent.
type KeyFinder func(ctx context.Context, keyAltName string) (primitive.Binary, error)

// Provider wraps the client-side encryption service with the data-key
// lifecycle and the two field algorithms. The key handle is a shared,
// read-mostly, process-wide resource: the first caller resolves or creates it
// under a lock and every later caller reuses the cached id.
type Provider struct {
	svc        Service
	findKey    KeyFinder
	masterKey  map[string]interface{}
	keyAltName string

	mu    sync.Mutex
	keyID *primitive.Binary
}

// NewProvider builds a Provider over an encryption service. masterKey is the
// GCP customer master key reference (projectId/location/keyRing/keyName) used
// only when the data key has to be created.
func NewProvider(svc Service, findKey KeyFinder, masterKey map[string]interface{}) *Provider {
	return &Provider{
		svc:        svc,
		findKey:    findKey,
		masterKey:  masterKey,
		keyAltName: DefaultKeyAltName,
	}
}

// FinderForClientEncryption adapts the driver's key vault lookup to a
// KeyFinder.
func FinderForClientEncryption(ce *mongo.ClientEncryption) KeyFinder {
	return func(ctx context.Context, keyAltName string) (primitive.Binary, error) {
		res := ce.GetKeyByAltName(ctx, keyAltName)
		raw, err := res.Raw()
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return primitive.Binary{}, ErrKeyNotFound
			}
			return primitive.Binary{}, err
		}
		sub, data, ok := raw.Lookup("_id").BinaryOK()
		if !ok {
			return primitive.Binary{}, fmt.Errorf("key document has no binary _id")
		}
		return primitive.Binary{Subtype: sub, Data: data}, nil
	}
}

// DataKeyID returns the process-wide data-encryption key id, creating it under
// the fixed alt name on first use. Concurrent first callers serialize on the
// internal lock, so creation happens at most once per process; a lost race
// across processes is resolved by the alt-name lookup always winning over
// creation.
func (p *Provider) DataKeyID(ctx context.Context) (primitive.Binary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keyID != nil {
		return *p.keyID, nil
	}

	id, err := p.findKey(ctx, p.keyAltName)
	if err == nil {
		p.keyID = &id
		return id, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return primitive.Binary{}, fmt.Errorf("DataKeyID: key vault lookup: %w", err)
	}

	created, err := p.svc.CreateDataKey(ctx, kmsProviderGCP,
		options.DataKey().
			SetMasterKey(p.masterKey).
			SetKeyAltNames([]string{p.keyAltName}))
	if err != nil {
		return primitive.Binary{}, &EncryptionError{Op: "create data key", Err: err}
	}

	p.keyID = &created
	return created, nil
}

// EncryptDeterministic encrypts plaintext so equal inputs produce byte-equal
// ciphertext, which keeps the field equality-queryable server-side. Empty
// input yields nil so the field is omitted rather than stored encrypted-empty.
func (p *Provider) EncryptDeterministic(ctx context.Context, plaintext string) (*primitive.Binary, error) {
	if plaintext == "" {
		return nil, nil
	}
	return p.encrypt(ctx, plaintext, algorithmDeterministic)
}

// EncryptRandom encrypts plaintext with a fresh IV per call; ciphertext is not
// queryable. nil and empty values yield nil; non-string values are stringified
// first.
func (p *Provider) EncryptRandom(ctx context.Context, value interface{}) (*primitive.Binary, error) {
	s, ok := stringify(value)
	if !ok {
		return nil, nil
	}
	return p.encrypt(ctx, s, algorithmRandom)
}

func (p *Provider) encrypt(ctx context.Context, plaintext, algorithm string) (*primitive.Binary, error) {
	keyID, err := p.DataKeyID(ctx)
	if err != nil {
		return nil, err
	}

	t, data, err := bson.MarshalValue(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: marshal plaintext: %w", err)
	}
	raw := bson.RawValue{Type: t, Value: data}

	var out primitive.Binary
	op := func() error {
		var encErr error
		out, encErr = p.svc.Encrypt(ctx, raw,
			options.Encrypt().SetAlgorithm(algorithm).SetKeyID(keyID))
		return encErr
	}

	// KMS round trips can throttle; retry transient failures a couple of
	// times before giving up on the whole record write.
	bo := backoff.WithContext(backoff.WithMaxRetries(newEncryptBackOff(), maxEncryptRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, &EncryptionError{Op: "encrypt field", Err: err}
	}
	return &out, nil
}

// Decrypt recovers the plaintext string from an explicitly encrypted value.
// Failures are surfaced as DecryptionError and never downgraded to an empty
// value.
func (p *Provider) Decrypt(ctx context.Context, ciphertext primitive.Binary) (string, error) {
	raw, err := p.svc.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	s, ok := raw.StringValueOK()
	if !ok {
		return "", &DecryptionError{Err: fmt.Errorf("decrypted value has type %s, want string", raw.Type)}
	}
	return s, nil
}

func newEncryptBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return bo
}

// stringify converts a field value to its stored string form. The boolean is
// false when the value should be omitted entirely.
func stringify(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case *string:
		if v == nil || *v == "" {
			return "", false
		}
		return *v, true
	case fmt.Stringer:
		return stringify(v.String())
	default:
		return fmt.Sprintf("%v", v), true
	}
}
