// Package gocardless is a minimal client for the GoCardless Bank Account
// Data API: token acquisition with expiry caching, plus the transaction and
// balance listings the sync worker consumes.
package gocardless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dvloznov/nexpass/internal/cache"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://bankaccountdata.gocardless.com/api/v2"

	requestTimeout = 20 * time.Second
	maxRetries     = 3

	// tokenRefreshBuffer refreshes the access token slightly before the
	// server-side expiry to avoid racing it.
	tokenRefreshBuffer = 30 * time.Second

	tokenCacheKey = "access-token"
)

// APIError is a non-2xx response from the aggregator.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gocardless: status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the request should be retried: network errors and
// 5xx/429 yes, other 4xx no.
func retryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Client talks to the Bank Account Data API. Safe for concurrent use; the
// access token is shared through a TTL cache.
type Client struct {
	baseURL   string
	secretID  string
	secretKey string
	http      *http.Client
	tokens    *cache.Cache[string, string]
}

// New builds a Client with the production base URL.
func New(secretID, secretKey string) *Client {
	return NewWithBaseURL(DefaultBaseURL, secretID, secretKey)
}

// NewWithBaseURL builds a Client against an explicit API root; tests point it
// at a local server.
func NewWithBaseURL(baseURL, secretID, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretID:  secretID,
		secretKey: secretKey,
		http:      &http.Client{Timeout: requestTimeout},
		tokens:    cache.New[string, string](time.Hour),
	}
}

// Amount is the aggregator's amount/currency pair.
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Transaction is one booked transaction as the aggregator reports it. Raw
// holds the original JSON for archival.
type Transaction struct {
	TransactionID                     string `json:"transactionId"`
	InternalTransactionID             string `json:"internalTransactionId"`
	BookingDate                       string `json:"bookingDate"`
	ValueDate                         string `json:"valueDate"`
	BookingDateTime                   string `json:"bookingDateTime"`
	TransactionAmount                 Amount `json:"transactionAmount"`
	CreditorName                      string `json:"creditorName"`
	DebtorName                        string `json:"debtorName"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
	AdditionalInformation             string `json:"additionalInformation"`

	Raw json.RawMessage `json:"-"`
}

// Balance is one balance snapshot.
type Balance struct {
	BalanceType   string `json:"balanceType"`
	ReferenceDate string `json:"referenceDate"`
	BalanceAmount Amount `json:"balanceAmount"`
}

// ProviderID returns the stable provider transaction id, preferring the bank
// assigned one over the aggregator-internal one.
func (t Transaction) ProviderID() string {
	if t.TransactionID != "" {
		return t.TransactionID
	}
	return t.InternalTransactionID
}

type tokenResponse struct {
	Access        string `json:"access"`
	AccessExpires int64  `json:"access_expires"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.Get(tokenCacheKey); ok {
		return tok, nil
	}

	body, err := json.Marshal(map[string]string{
		"secret_id":  c.secretID,
		"secret_key": c.secretKey,
	})
	if err != nil {
		return "", fmt.Errorf("accessToken: marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token/new/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("accessToken: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("accessToken: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return "", fmt.Errorf("accessToken: decode response: %w", err)
	}
	if tok.Access == "" {
		return "", fmt.Errorf("accessToken: empty access token in response")
	}

	ttl := time.Duration(tok.AccessExpires)*time.Second - tokenRefreshBuffer
	if ttl > 0 {
		c.tokens.SetWithTTL(tokenCacheKey, tok.Access, ttl)
	}
	return tok.Access, nil
}

// get performs an authenticated GET with bounded retries.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var respBody []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		respBody, err = c.do(req)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return respBody, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Transactions lists booked transactions for an account, optionally limited
// to bookings on or after dateFrom (YYYY-MM-DD).
func (c *Client) Transactions(ctx context.Context, accountID, dateFrom string) ([]Transaction, error) {
	query := url.Values{}
	if dateFrom != "" {
		query.Set("date_from", dateFrom)
	}

	body, err := c.get(ctx, "/accounts/"+accountID+"/transactions/", query)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Transactions struct {
			Booked []json.RawMessage `json:"booked"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("Transactions: decode response: %w", err)
	}

	out := make([]Transaction, 0, len(envelope.Transactions.Booked))
	for i, raw := range envelope.Transactions.Booked {
		var tx Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("Transactions: decode booked[%d]: %w", i, err)
		}
		tx.Raw = raw
		out = append(out, tx)
	}
	return out, nil
}

// Balances lists balance snapshots for an account.
func (c *Client) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	body, err := c.get(ctx, "/accounts/"+accountID+"/balances/", nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Balances []Balance `json:"balances"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("Balances: decode response: %w", err)
	}
	return envelope.Balances, nil
}
