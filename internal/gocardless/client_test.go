package gocardless

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWithBaseURL(srv.URL, "sid", "skey"), srv
}

func tokenHandler(tokenCalls *int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(tokenCalls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access":         "tok-123",
			"access_expires": 86400,
		})
	}
}

func TestAccessTokenIsCached(t *testing.T) {
	var tokenCalls int64
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/new/":
			tokenHandler(&tokenCalls)(w, r)
		default:
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]interface{}{"balances": []interface{}{}})
		}
	})

	ctx := context.Background()
	_, err := client.Balances(ctx, "acc-1")
	require.NoError(t, err)
	_, err = client.Balances(ctx, "acc-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&tokenCalls))
}

func TestTransactionsParsesBookedAndKeepsRaw(t *testing.T) {
	var tokenCalls int64
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/new/":
			tokenHandler(&tokenCalls)(w, r)
		case "/accounts/acc-1/transactions/":
			assert.Equal(t, "2024-03-01", r.URL.Query().Get("date_from"))
			w.Write([]byte(`{
				"transactions": {
					"booked": [
						{
							"transactionId": "tx-1",
							"bookingDate": "2024-03-15",
							"transactionAmount": {"amount": "-12.50", "currency": "EUR"},
							"creditorName": "ALDI SUED",
							"remittanceInformationUnstructured": "card payment"
						}
					]
				}
			}`))
		default:
			http.NotFound(w, r)
		}
	})

	txs, err := client.Transactions(context.Background(), "acc-1", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "tx-1", tx.TransactionID)
	assert.Equal(t, "tx-1", tx.ProviderID())
	assert.Equal(t, "-12.50", tx.TransactionAmount.Amount)
	assert.Equal(t, "ALDI SUED", tx.CreditorName)
	assert.Contains(t, string(tx.Raw), `"transactionId": "tx-1"`)
}

func TestProviderIDFallsBackToInternalID(t *testing.T) {
	tx := Transaction{InternalTransactionID: "int-9"}
	assert.Equal(t, "int-9", tx.ProviderID())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var txCalls int64
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/new/":
			json.NewEncoder(w).Encode(map[string]interface{}{"access": "tok", "access_expires": 3600})
		default:
			atomic.AddInt64(&txCalls, 1)
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
		}
	})

	_, err := client.Transactions(context.Background(), "missing", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, int64(1), atomic.LoadInt64(&txCalls))
}

func TestServerErrorIsRetried(t *testing.T) {
	var balCalls int64
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/new/":
			json.NewEncoder(w).Encode(map[string]interface{}{"access": "tok", "access_expires": 3600})
		default:
			if atomic.AddInt64(&balCalls, 1) == 1 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"balances": [{"balanceType": "expected", "referenceDate": "2024-03-15", "balanceAmount": {"amount": "100.00", "currency": "EUR"}}]}`))
		}
	})

	balances, err := client.Balances(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "expected", balances[0].BalanceType)
	assert.Equal(t, int64(2), atomic.LoadInt64(&balCalls))
}
