package crypto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeService mimics the encryption service: deterministic ciphertext is a
// stable function of the plaintext, random ciphertext carries a nonce.
type fakeService struct {
	mu          sync.Mutex
	nonce       int
	createCalls int
	encryptErr  error
}

func (f *fakeService) CreateDataKey(ctx context.Context, kmsProvider string, opts ...*options.DataKeyOptions) (primitive.Binary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return primitive.Binary{Subtype: 4, Data: []byte("fake-data-key-id")}, nil
}

func (f *fakeService) Encrypt(ctx context.Context, val bson.RawValue, opts ...*options.EncryptOptions) (primitive.Binary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.encryptErr != nil {
		return primitive.Binary{}, f.encryptErr
	}
	plaintext, ok := val.StringValueOK()
	if !ok {
		return primitive.Binary{}, fmt.Errorf("fake encrypt: non-string input")
	}
	var alg string
	for _, o := range opts {
		if o != nil && o.Algorithm != "" {
			alg = o.Algorithm
		}
	}
	var data []byte
	switch alg {
	case algorithmDeterministic:
		data = []byte("det:" + plaintext)
	case algorithmRandom:
		f.nonce++
		data = []byte(fmt.Sprintf("rnd:%d:%s", f.nonce, plaintext))
	default:
		return primitive.Binary{}, fmt.Errorf("fake encrypt: unknown algorithm %q", alg)
	}
	return primitive.Binary{Subtype: 6, Data: data}, nil
}

func (f *fakeService) Decrypt(ctx context.Context, val primitive.Binary) (bson.RawValue, error) {
	s := string(val.Data)
	var plaintext string
	switch {
	case strings.HasPrefix(s, "det:"):
		plaintext = strings.TrimPrefix(s, "det:")
	case strings.HasPrefix(s, "rnd:"):
		parts := strings.SplitN(s, ":", 3)
		if len(parts) != 3 {
			return bson.RawValue{}, fmt.Errorf("fake decrypt: corrupted ciphertext")
		}
		plaintext = parts[2]
	default:
		return bson.RawValue{}, fmt.Errorf("fake decrypt: unrecognized ciphertext")
	}
	t, b, err := bson.MarshalValue(plaintext)
	if err != nil {
		return bson.RawValue{}, err
	}
	return bson.RawValue{Type: t, Value: b}, nil
}

func newTestProvider(svc Service, found bool) (*Provider, *int) {
	lookups := 0
	finder := func(ctx context.Context, altName string) (primitive.Binary, error) {
		lookups++
		if found {
			return primitive.Binary{Subtype: 4, Data: []byte("existing-key-id")}, nil
		}
		return primitive.Binary{}, ErrKeyNotFound
	}
	return NewProvider(svc, finder, map[string]interface{}{"projectId": "p"}), &lookups
}

func TestDataKeyIDUsesExistingKey(t *testing.T) {
	svc := &fakeService{}
	p, lookups := newTestProvider(svc, true)

	id, err := p.DataKeyID(context.Background())
	if err != nil {
		t.Fatalf("DataKeyID: %v", err)
	}
	if string(id.Data) != "existing-key-id" {
		t.Errorf("got key %q, want existing-key-id", id.Data)
	}
	if svc.createCalls != 0 {
		t.Errorf("CreateDataKey called %d times, want 0", svc.createCalls)
	}

	// Second call must come from the cache.
	if _, err := p.DataKeyID(context.Background()); err != nil {
		t.Fatalf("DataKeyID (cached): %v", err)
	}
	if *lookups != 1 {
		t.Errorf("key vault lookups = %d, want 1", *lookups)
	}
}

func TestDataKeyIDCreatesWhenMissing(t *testing.T) {
	svc := &fakeService{}
	p, _ := newTestProvider(svc, false)

	id, err := p.DataKeyID(context.Background())
	if err != nil {
		t.Fatalf("DataKeyID: %v", err)
	}
	if string(id.Data) != "fake-data-key-id" {
		t.Errorf("got key %q, want created key", id.Data)
	}
	if svc.createCalls != 1 {
		t.Errorf("CreateDataKey called %d times, want 1", svc.createCalls)
	}
}

func TestEncryptDeterministicIsStable(t *testing.T) {
	p, _ := newTestProvider(&fakeService{}, true)
	ctx := context.Background()

	a, err := p.EncryptDeterministic(ctx, "DE1234500001")
	if err != nil {
		t.Fatalf("EncryptDeterministic: %v", err)
	}
	b, err := p.EncryptDeterministic(ctx, "DE1234500001")
	if err != nil {
		t.Fatalf("EncryptDeterministic: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Errorf("deterministic ciphertexts differ: %q vs %q", a.Data, b.Data)
	}
}

func TestEncryptRandomDiffersAndRoundTrips(t *testing.T) {
	p, _ := newTestProvider(&fakeService{}, true)
	ctx := context.Background()

	a, err := p.EncryptRandom(ctx, "-4.50")
	if err != nil {
		t.Fatalf("EncryptRandom: %v", err)
	}
	b, err := p.EncryptRandom(ctx, "-4.50")
	if err != nil {
		t.Fatalf("EncryptRandom: %v", err)
	}
	if bytes.Equal(a.Data, b.Data) {
		t.Errorf("random ciphertexts are equal, want them to differ")
	}

	for _, ct := range []*primitive.Binary{a, b} {
		got, err := p.Decrypt(ctx, *ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != "-4.50" {
			t.Errorf("Decrypt = %q, want -4.50", got)
		}
	}
}

func TestEncryptNilAndEmptyAreOmitted(t *testing.T) {
	p, _ := newTestProvider(&fakeService{}, true)
	ctx := context.Background()

	tests := []struct {
		name  string
		value interface{}
	}{
		{"nil", nil},
		{"empty string", ""},
		{"nil string pointer", (*string)(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := p.EncryptRandom(ctx, tt.value)
			if err != nil {
				t.Fatalf("EncryptRandom: %v", err)
			}
			if ct != nil {
				t.Errorf("EncryptRandom(%v) = %v, want nil", tt.value, ct)
			}
		})
	}

	ct, err := p.EncryptDeterministic(ctx, "")
	if err != nil {
		t.Fatalf("EncryptDeterministic: %v", err)
	}
	if ct != nil {
		t.Errorf("EncryptDeterministic(\"\") = %v, want nil", ct)
	}
}

func TestEncryptRandomStringifiesNumbers(t *testing.T) {
	p, _ := newTestProvider(&fakeService{}, true)
	ctx := context.Background()

	ct, err := p.EncryptRandom(ctx, 42.5)
	if err != nil {
		t.Fatalf("EncryptRandom: %v", err)
	}
	got, err := p.Decrypt(ctx, *ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "42.5" {
		t.Errorf("Decrypt = %q, want \"42.5\"", got)
	}
}

func TestDecryptFailureIsTyped(t *testing.T) {
	p, _ := newTestProvider(&fakeService{}, true)

	_, err := p.Decrypt(context.Background(), primitive.Binary{Subtype: 6, Data: []byte("garbage")})
	if err == nil {
		t.Fatal("Decrypt of garbage succeeded, want error")
	}
	var de *DecryptionError
	if !errors.As(err, &de) {
		t.Errorf("error %T is not a DecryptionError", err)
	}
}

func TestEncryptFailureIsTypedAfterRetries(t *testing.T) {
	svc := &fakeService{encryptErr: fmt.Errorf("kms unavailable")}
	p, _ := newTestProvider(svc, true)

	_, err := p.EncryptRandom(context.Background(), "secret")
	if err == nil {
		t.Fatal("EncryptRandom succeeded, want error")
	}
	var ee *EncryptionError
	if !errors.As(err, &ee) {
		t.Errorf("error %T is not an EncryptionError", err)
	}
}
