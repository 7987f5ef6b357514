// Package payout is the HTTP client for the bank payout executor.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

const (
	payoutsEndpoint      = "/payouts"
	idempotencyKeyHeader = "Idempotency-Key"
	maxErrorBody         = 512
)

// ErrTransient is returned for failures worth retrying: network errors, 5xx and 429
type ErrTransient struct {
	StatusCode int
	Cause      error
}

func (e ErrTransient) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("payout executor unavailable: %v", e.Cause)
	}
	return fmt.Sprintf("payout executor returned status %d", e.StatusCode)
}

func (e ErrTransient) Unwrap() error {
	return e.Cause
}

type payoutRequest struct {
	SettlementID string `json:"settlement_id"`
	PartnerID    string `json:"partner_id"`
	Amount       string `json:"amount"`
	Mode         string `json:"mode"`
}

type payoutResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// Client calls the payout executor over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ settlement.PayoutExecutor = (*Client)(nil)

// NewClient creates a payout client. The caller's context bounds each call.
func NewClient(logger *slog.Logger, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Execute requests one payout. A 4xx answer or a non-success status in the
// body is a definitive failure and is returned as a result, not an error.
func (c *Client) Execute(ctx context.Context, req settlement.PayoutRequest) (*settlement.PayoutResult, error) {
	body, err := json.Marshal(payoutRequest{
		SettlementID: req.SettlementID.String(),
		PartnerID:    req.PartnerID.String(),
		Amount:       shared.FormatMoney(req.Amount),
		Mode:         string(req.Mode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+payoutsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(idempotencyKeyHeader, req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTransient{Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Payout executor unavailable",
			"settlement_id", req.SettlementID.String(),
			"status", resp.StatusCode,
		)
		return nil, ErrTransient{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &settlement.PayoutResult{
			Success: false,
			Reason:  fmt.Sprintf("rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(reason))),
		}, nil
	}

	var out payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrTransient{StatusCode: resp.StatusCode, Cause: fmt.Errorf("failed to decode payout response: %w", err)}
	}

	return &settlement.PayoutResult{
		Reference: out.Reference,
		Success:   strings.EqualFold(out.Status, "success"),
		Reason:    out.Reason,
	}, nil
}
