// Package ledger implements ports.TransactionBackend against the REST API of
// the escrow ledger.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/escrowchat/tradecoord/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

const (
	DefaultRequestTimeout = 8 * time.Second
	DefaultRateLimit      = 20
)

type client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
}

type response struct {
	status int
	body   []byte
}

// NewClient returns a ledger client. Requests are paced at rateLimit per
// second and go through a circuit breaker; while the breaker is open calls
// fail with domain.ErrBackendTimeout.
func NewClient(
	baseURL string, requestTimeout time.Duration, rateLimit int,
) (ports.TransactionBackend, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid ledger url: %w", err)
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}

	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		cb:      circuitbreaker.NewCircuitBreaker("ledger"),
		limiter: ratelimit.New(rateLimit),
	}, nil
}

func (c *client) GetCurrentActiveTransaction(
	ctx context.Context, userID string,
) (*ports.BackendTransaction, error) {
	path := fmt.Sprintf("/v1/users/%s/transactions/active", url.PathEscape(userID))
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}

	tx := &ports.BackendTransaction{}
	if err := json.Unmarshal(res.body, tx); err != nil {
		return nil, fmt.Errorf("failed to parse active transaction: %w", err)
	}
	if tx.ID == "" {
		return nil, nil
	}
	return tx, nil
}

func (c *client) ListTransactions(
	ctx context.Context, userID string, filter ports.TransactionFilter,
) ([]ports.BackendTransaction, error) {
	path := fmt.Sprintf("/v1/users/%s/transactions", url.PathEscape(userID))
	if filter.Status != "" {
		path = fmt.Sprintf("%s?status=%s", path, url.QueryEscape(filter.Status))
	}
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}

	var body struct {
		Transactions []ports.BackendTransaction `json:"transactions"`
	}
	if err := json.Unmarshal(res.body, &body); err != nil {
		return nil, fmt.Errorf("failed to parse transactions: %w", err)
	}
	return body.Transactions, nil
}

func (c *client) GetTransactionByID(
	ctx context.Context, id string,
) (*ports.BackendTransaction, error) {
	path := fmt.Sprintf("/v1/transactions/%s", url.PathEscape(id))
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}

	tx := &ports.BackendTransaction{}
	if err := json.Unmarshal(res.body, tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return tx, nil
}

func (c *client) CreateInvoice(
	ctx context.Context, req ports.InvoiceRequest,
) (domain.InvoiceID, error) {
	res, err := c.do(ctx, http.MethodPost, "/v1/invoices", req)
	if err != nil {
		return "", err
	}
	if err := checkStatus(res); err != nil {
		return "", err
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.body, &body); err != nil {
		return "", fmt.Errorf("failed to parse invoice: %w", err)
	}
	if body.ID == "" {
		return "", ErrMissingID
	}
	return domain.InvoiceID(body.ID), nil
}

func (c *client) AcceptInvoice(
	ctx context.Context, invoiceID domain.InvoiceID,
) (domain.TransactionID, error) {
	path := fmt.Sprintf("/v1/invoices/%s/accept", url.PathEscape(invoiceID.String()))
	res, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	if res.status == http.StatusPaymentRequired {
		return "", parseInsufficientFunds(res.body)
	}
	if err := checkStatus(res); err != nil {
		return "", err
	}

	var body struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(res.body, &body); err != nil {
		return "", fmt.Errorf("failed to parse accepted invoice: %w", err)
	}
	if body.TransactionID == "" {
		return "", ErrMissingID
	}
	return domain.TransactionID(body.TransactionID), nil
}

func (c *client) ReleasePayment(
	ctx context.Context, txID domain.TransactionID, pin string,
) error {
	path := fmt.Sprintf("/v1/transactions/%s/release", url.PathEscape(txID.String()))
	res, err := c.do(ctx, http.MethodPost, path, map[string]string{"pin": pin})
	if err != nil {
		return err
	}
	return checkStatus(res)
}

func (c *client) Cancel(ctx context.Context, txID domain.TransactionID) error {
	path := fmt.Sprintf("/v1/transactions/%s/cancel", url.PathEscape(txID.String()))
	res, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	// Cancelling twice is not an error from the caller's perspective.
	if res.status == http.StatusConflict {
		return nil
	}
	return checkStatus(res)
}

// do sends the request through the rate limiter and the circuit breaker.
// Only transport failures and 5xx responses count as breaker failures,
// everything else is returned to the caller to interpret.
func (c *client) do(
	ctx context.Context, method, path string, payload interface{},
) (*response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.limiter.Take()

	res, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &StatusError{resp.StatusCode, errorMessage(buf)}
		}
		return &response{resp.StatusCode, buf}, nil
	})
	if err != nil {
		return nil, wrapError(ctx, err)
	}
	return res.(*response), nil
}

// wrapError reports failures whose outcome is unknown as
// domain.ErrBackendTimeout.
func wrapError(ctx context.Context, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", domain.ErrBackendTimeout, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", domain.ErrBackendTimeout, ctx.Err())
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %s", domain.ErrBackendTimeout, err)
	}
	return err
}

func checkStatus(res *response) error {
	if res.status >= http.StatusOK && res.status < http.StatusMultipleChoices {
		return nil
	}
	return &StatusError{res.status, errorMessage(res.body)}
}

func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func parseInsufficientFunds(body []byte) error {
	var e struct {
		Shortfall decimal.Decimal `json:"shortfall"`
		Currency  string          `json:"currency"`
	}
	// nolint
	json.Unmarshal(body, &e)
	return &domain.InsufficientFundsError{
		Shortfall: e.Shortfall,
		Currency:  e.Currency,
	}
}
