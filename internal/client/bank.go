// Package client provides the HTTP client for the banking provider's API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"notary-relay/internal/config"
	"notary-relay/internal/metrics"
	"notary-relay/internal/model"
)

// maxResponseBytes caps how much of a transaction response is read.
const maxResponseBytes = 4 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bank API returned HTTP %d", e.StatusCode)
}

// BankClient sends requests to the banking provider with a replayed session.
type BankClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBankClient creates a BankClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBankClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BankClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Bank.IdleConnections,
		MaxIdleConnsPerHost: cfg.Bank.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BankClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Bank.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "bank_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the bank and records upstream metrics.
// The caller is responsible for closing the response body.
func (c *BankClient) Do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("bank request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("bank request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

// FetchTransactions GETs url with header and decodes the JSON array of
// transactions. An empty body or a JSON null yields an empty slice.
func (c *BankClient) FetchTransactions(ctx context.Context, url string, header http.Header) ([]model.Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build bank request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read bank response: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var txs []model.Transaction
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("decode bank response: %w", err)
	}
	return txs, nil
}
