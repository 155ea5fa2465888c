package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// LedgerClient is the upstream CORE ledger contract: a POST that
// returns a user's non-funding ledger updates from startTime,
// ascending by time.
type LedgerClient interface {
	FetchUpdates(ctx context.Context, user string, startTime int64) ([]LedgerUpdate, error)
}

// LedgerUpdate is one entry of the ledger response.
type LedgerUpdate struct {
	Time  int64        `json:"time"`
	Hash  string       `json:"hash"`
	Delta LedgerDelta `json:"delta"`
}

// LedgerDelta carries the spot-transfer fields when Kind ==
// "spotTransfer"; other kinds are ignored by the caller.
type LedgerDelta struct {
	Kind           string  `json:"kind"`
	Token          string  `json:"token"`
	Amount         string  `json:"amount"`
	User           string  `json:"user"`
	Destination    string  `json:"destination"`
	USDCValue      *string `json:"usdcValue,omitempty"`
	Fee            *string `json:"fee,omitempty"`
	NativeTokenFee *string `json:"nativeTokenFee,omitempty"`
}

// RateLimitedError is returned when the upstream responds 429; the
// caller uses RetryAfter to push the shared backoff coordinator.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

type httpLedgerClient struct {
	url    string
	client *http.Client
}

// NewHTTPLedgerClient builds a LedgerClient against a POST endpoint
// accepting {kind, user, startTime}.
func NewHTTPLedgerClient(url string, timeout time.Duration) LedgerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpLedgerClient{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *httpLedgerClient) FetchUpdates(ctx context.Context, user string, startTime int64) ([]LedgerUpdate, error) {
	body, err := json.Marshal(map[string]interface{}{
		"kind":      "userNonFundingLedgerUpdates",
		"user":      user,
		"startTime": startTime,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	var updates []LedgerUpdate
	if err := json.NewDecoder(resp.Body).Decode(&updates); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return updates, nil
}

const defaultRetryAfter = 60 * time.Second

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
