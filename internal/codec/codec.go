// Package codec is the single source of truth for which fields of each stored
// entity are plaintext, deterministically encrypted, or randomly encrypted,
// and how a value is normalized before encryption. Every write path (initial
// sync, manual edit, rule-driven mutation) must go through Encode so no code
// path can persist a protected field in plaintext.
package codec

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// Mode selects how a field is persisted.
type Mode int

const (
	// ModePlaintext stores the value as-is; the field stays queryable,
	// sortable and aggregatable server-side.
	ModePlaintext Mode = iota
	// ModeDeterministic encrypts so equal plaintext yields equal
	// ciphertext; the field supports equality filters on ciphertext.
	ModeDeterministic
	// ModeRandom encrypts with a fresh IV per call; not queryable.
	ModeRandom
)

// Transform normalizes a value's string form before encryption or storage.
type Transform func(string) string

// FieldSpec describes one field of an entity table.
type FieldSpec struct {
	Mode      Mode
	Transform Transform
}

// TransactionFields maps every persistable transaction field to its mode.
var TransactionFields = map[string]FieldSpec{
	"userId":      {Mode: ModePlaintext},
	"category":    {Mode: ModePlaintext},
	"exclude":     {Mode: ModePlaintext},
	"bookingDate": {Mode: ModePlaintext, Transform: DateOnly},
	"createdAt":   {Mode: ModePlaintext},
	"updatedAt":   {Mode: ModePlaintext},

	"accountId":     {Mode: ModeDeterministic},
	"transactionId": {Mode: ModeDeterministic},

	"amount":          {Mode: ModeRandom},
	"currency":        {Mode: ModeRandom, Transform: CurrencyCode},
	"valueDate":       {Mode: ModeRandom, Transform: DateOnly},
	"bookingDateTime": {Mode: ModeRandom},
	"description":     {Mode: ModeRandom, Transform: Truncate(500)},
	"counterparty":    {Mode: ModeRandom, Transform: Truncate(255)},
	"raw":             {Mode: ModeRandom, Transform: Truncate(10000)},
}

// BankAccountFields maps bank account fields to their modes. accountId is the
// natural key and must stay equality-queryable.
var BankAccountFields = map[string]FieldSpec{
	"userId":        {Mode: ModePlaintext},
	"institutionId": {Mode: ModePlaintext},
	"createdAt":     {Mode: ModePlaintext},
	"updatedAt":     {Mode: ModePlaintext},

	"accountId": {Mode: ModeDeterministic},

	"iban":        {Mode: ModeRandom},
	"accountName": {Mode: ModeRandom, Transform: Truncate(255)},
	"currency":    {Mode: ModeRandom, Transform: CurrencyCode},
	"status":      {Mode: ModeRandom},
}

// BalanceFields maps balance fields to their modes. referenceDate and
// balanceType stay plaintext because they participate in the dedup key.
var BalanceFields = map[string]FieldSpec{
	"userId":        {Mode: ModePlaintext},
	"balanceType":   {Mode: ModePlaintext},
	"referenceDate": {Mode: ModePlaintext, Transform: DateOnly},
	"createdAt":     {Mode: ModePlaintext},
	"updatedAt":     {Mode: ModePlaintext},

	"accountId": {Mode: ModeDeterministic},

	"balanceAmount": {Mode: ModeRandom},
	"currency":      {Mode: ModeRandom, Transform: CurrencyCode},
}

// Encrypter is the part of the crypto provider the codec needs.
type Encrypter interface {
	EncryptDeterministic(ctx context.Context, plaintext string) (*primitive.Binary, error)
	EncryptRandom(ctx context.Context, value interface{}) (*primitive.Binary, error)
}

// encryptConcurrency bounds parallel KMS-backed encrypt calls per document.
const encryptConcurrency = 8

// Encoder applies a field table to raw values and produces a persistable
// document.
type Encoder struct {
	enc Encrypter
}

// NewEncoder builds an Encoder over a crypto provider.
func NewEncoder(enc Encrypter) *Encoder {
	return &Encoder{enc: enc}
}

// Encode builds the document to persist. Fields whose transformed value is
// nil or empty are omitted entirely, so partial data never writes encrypted
// nulls. A value for a field the table does not know is an error: unknown
// fields must be added to the table, never written around it.
//
// Independent field encryptions are out-of-process KMS operations, so they run
// concurrently under a bounded limit. Encrypted results are collected per
// goroutine and merged after the wait; plaintext fields are written before
// any goroutine starts, so the document map is never touched from two
// goroutines at once.
func (e *Encoder) Encode(ctx context.Context, table map[string]FieldSpec, values map[string]interface{}) (bson.M, error) {
	for field := range values {
		spec, ok := table[field]
		if !ok {
			return nil, fmt.Errorf("Encode: field %q not declared in entity table", field)
		}
		switch spec.Mode {
		case ModePlaintext, ModeDeterministic, ModeRandom:
		default:
			return nil, fmt.Errorf("Encode: field %q has unknown mode %d", field, spec.Mode)
		}
	}

	doc := bson.M{}
	type pending struct {
		spec      FieldSpec
		plaintext string
	}
	encrypt := map[string]pending{}

	for field, value := range values {
		if value == nil {
			continue
		}
		spec := table[field]

		switch spec.Mode {
		case ModePlaintext:
			v := value
			if s, isStr := v.(string); isStr {
				s = applyTransform(spec.Transform, s)
				if s == "" {
					continue
				}
				v = s
			}
			doc[field] = v

		default:
			s, ok := toString(value)
			if !ok {
				continue
			}
			s = applyTransform(spec.Transform, s)
			if s == "" {
				continue
			}
			encrypt[field] = pending{spec: spec, plaintext: s}
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(encryptConcurrency)

	for field, p := range encrypt {
		field, p := field, p
		g.Go(func() error {
			var ct *primitive.Binary
			var err error
			if p.spec.Mode == ModeDeterministic {
				ct, err = e.enc.EncryptDeterministic(gctx, p.plaintext)
			} else {
				ct, err = e.enc.EncryptRandom(gctx, p.plaintext)
			}
			if err != nil {
				return fmt.Errorf("Encode: field %q: %w", field, err)
			}
			if ct == nil {
				return nil
			}
			mu.Lock()
			doc[field] = *ct
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return doc, nil
}

func applyTransform(t Transform, s string) string {
	if t == nil {
		return s
	}
	return t(s)
}

func toString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case *string:
		if v == nil {
			return "", false
		}
		return *v, *v != ""
	default:
		return fmt.Sprintf("%v", v), true
	}
}
