package assemble

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dvloznov/nexpass/internal/categorize"
	"github.com/dvloznov/nexpass/internal/codec"
	"github.com/dvloznov/nexpass/internal/domain"
	"github.com/dvloznov/nexpass/internal/gocardless"
)

// stubEncrypter mirrors the codec test fake: ciphertext is the plaintext with
// a mode prefix so assertions can see through it.
type stubEncrypter struct{}

func (stubEncrypter) EncryptDeterministic(_ context.Context, plaintext string) (*primitive.Binary, error) {
	if plaintext == "" {
		return nil, nil
	}
	return &primitive.Binary{Subtype: 6, Data: []byte("det:" + plaintext)}, nil
}

func (stubEncrypter) EncryptRandom(_ context.Context, value interface{}) (*primitive.Binary, error) {
	if value == nil {
		return nil, nil
	}
	s, _ := value.(string)
	if s == "" {
		return nil, nil
	}
	return &primitive.Binary{Subtype: 6, Data: []byte("rnd:" + s)}, nil
}

type stubSuggester struct {
	got      categorize.Input
	fallback domain.Category
	out      domain.Category
}

func (s *stubSuggester) Suggest(_ context.Context, in categorize.Input, fallback domain.Category) domain.Category {
	s.got = in
	s.fallback = fallback
	if s.out != "" {
		return s.out
	}
	return fallback
}

func cipher(t *testing.T, v interface{}) string {
	t.Helper()
	bin, ok := v.(primitive.Binary)
	require.True(t, ok, "expected primitive.Binary, got %T", v)
	return string(bin.Data)
}

func TestGenerateDocID(t *testing.T) {
	t.Run("provider id wins and is sanitized", func(t *testing.T) {
		tx := gocardless.Transaction{TransactionID: "tx/2024:03.15#1"}
		assert.Equal(t, "tx_2024_03_15_1", GenerateDocID("acc", tx))
	})

	t.Run("fallback is stable and capped", func(t *testing.T) {
		tx := gocardless.Transaction{
			BookingDate:                       "2024-03-15",
			TransactionAmount:                 gocardless.Amount{Amount: "-12.50"},
			RemittanceInformationUnstructured: "card payment",
		}
		first := GenerateDocID("acc-1", tx)
		second := GenerateDocID("acc-1", tx)
		assert.Equal(t, first, second)
		assert.True(t, strings.HasPrefix(first, "gen_"))
		assert.LessOrEqual(t, len(first), 36)

		other := tx
		other.TransactionAmount.Amount = "-13.00"
		assert.NotEqual(t, first, GenerateDocID("acc-1", other))
	})

	t.Run("fallback normalizes the resolved description", func(t *testing.T) {
		remittance := gocardless.Transaction{
			BookingDate:                       "2024-03-15",
			TransactionAmount:                 gocardless.Amount{Amount: "-12.50"},
			RemittanceInformationUnstructured: "Card  Payment",
		}
		additional := gocardless.Transaction{
			BookingDate:           "2024-03-15",
			TransactionAmount:     gocardless.Amount{Amount: "-12.50"},
			AdditionalInformation: "card payment",
		}
		assert.Equal(t, GenerateDocID("acc-1", remittance), GenerateDocID("acc-1", additional))
	})
}

func TestAssembleTransaction(t *testing.T) {
	suggester := &stubSuggester{out: domain.CategoryGroceries}
	a := New(codec.NewEncoder(stubEncrypter{}), suggester)

	raw, _ := json.Marshal(map[string]string{"transactionId": "tx-1"})
	tx := gocardless.Transaction{
		TransactionID:                     "tx-1",
		BookingDate:                       "2024-03-15",
		ValueDate:                         "2024-03-16",
		TransactionAmount:                 gocardless.Amount{Amount: "-12.50", Currency: "eur"},
		CreditorName:                      "ALDI SUED",
		RemittanceInformationUnstructured: "card payment 1234",
		Raw:                               raw,
	}
	now := time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)

	docID, doc, err := a.Transaction(context.Background(), "user-1", "acc-1", tx, now)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", docID)

	// Categorization saw the plaintext with the background fallback.
	assert.Equal(t, "card payment 1234", suggester.got.Description)
	assert.Equal(t, "ALDI SUED", suggester.got.Counterparty)
	assert.Equal(t, domain.CategoryMiscellaneous, suggester.fallback)

	assert.Equal(t, "user-1", doc["userId"])
	assert.Equal(t, "Groceries", doc["category"])
	assert.Equal(t, false, doc["exclude"])
	assert.Equal(t, "2024-03-15", doc["bookingDate"])
	assert.Equal(t, "2024-03-16T10:00:00Z", doc["createdAt"])

	assert.Equal(t, "det:acc-1", cipher(t, doc["accountId"]))
	assert.Equal(t, "det:tx-1", cipher(t, doc["transactionId"]))
	assert.Equal(t, "rnd:-12.50", cipher(t, doc["amount"]))
	assert.Equal(t, "rnd:EUR", cipher(t, doc["currency"]))
	assert.Equal(t, "rnd:ALDI SUED", cipher(t, doc["counterparty"]))
	assert.Equal(t, "rnd:"+string(raw), cipher(t, doc["raw"]))
}

func TestAssembleTransactionFieldFallbacks(t *testing.T) {
	a := New(codec.NewEncoder(stubEncrypter{}), nil)

	tx := gocardless.Transaction{
		TransactionID:         "tx-2",
		BookingDate:           "2024-03-15",
		TransactionAmount:     gocardless.Amount{Amount: "900.00", Currency: "EUR"},
		DebtorName:            "ACME PAYROLL",
		AdditionalInformation: "salary march",
	}

	_, doc, err := a.Transaction(context.Background(), "user-1", "acc-1", tx, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "rnd:salary march", cipher(t, doc["description"]))
	assert.Equal(t, "rnd:ACME PAYROLL", cipher(t, doc["counterparty"]))
	// nil suggester lands on Miscellaneous.
	assert.Equal(t, "Miscellaneous", doc["category"])
	// Absent value date is omitted, not stored as an encrypted empty.
	_, has := doc["valueDate"]
	assert.False(t, has)
}

func TestBalanceDocID(t *testing.T) {
	assert.Equal(t, "acc-1_expected", BalanceDocID("acc-1", "expected"))

	long := BalanceDocID("3fa85f64-5717-4562-b3fc-2c963f66afa6", "interimAvailable")
	assert.LessOrEqual(t, len(long), 36)
	assert.True(t, strings.HasSuffix(long, "_interimAvailable"))
	assert.Equal(t, long, BalanceDocID("3fa85f64-5717-4562-b3fc-2c963f66afa6", "interimAvailable"))
}

func TestAssembleBalance(t *testing.T) {
	a := New(codec.NewEncoder(stubEncrypter{}), nil)

	bal := gocardless.Balance{
		BalanceType:   "expected",
		ReferenceDate: "2024-03-15",
		BalanceAmount: gocardless.Amount{Amount: "1024.33", Currency: "eur"},
	}
	now := time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)

	docID, doc, err := a.Balance(context.Background(), "user-1", "acc-1", bal, now)
	require.NoError(t, err)
	assert.Equal(t, "acc-1_expected", docID)

	assert.Equal(t, "expected", doc["balanceType"])
	assert.Equal(t, "2024-03-15", doc["referenceDate"])
	assert.Equal(t, "det:acc-1", cipher(t, doc["accountId"]))
	assert.Equal(t, "rnd:1024.33", cipher(t, doc["balanceAmount"]))
	assert.Equal(t, "rnd:EUR", cipher(t, doc["currency"]))
}
