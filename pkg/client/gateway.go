package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-console/pkg/logger"
	"dex-console/pkg/money"
	"dex-console/pkg/types"
)

const (
	PathAggregate   = "/api/v1/quotes/aggregate"
	PathRisk        = "/api/v1/risk/assess"
	PathRefresh     = "/api/v1/quotes/refresh"
	PathGasEstimate = "/api/v1/trades/gas-estimate"
	PathBuild       = "/api/v1/trades/build"
	PathExecute     = "/api/v1/trades/execute"
	PathQuoteStream = "/api/v1/ws/quotes"

	// TraceIDHeader repeats the body's trace_id for proxies and server logs
	TraceIDHeader = "X-Trace-ID"
)

// Timeouts are per-request deadlines, applied to each attempt
type Timeouts struct {
	Aggregate   time.Duration
	Risk        time.Duration
	Refresh     time.Duration
	GasEstimate time.Duration
	Build       time.Duration
	Execute     time.Duration
}

// DefaultTimeouts returns the console's standard request deadlines
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Aggregate:   10 * time.Second,
		Risk:        10 * time.Second,
		Refresh:     5 * time.Second,
		GasEstimate: 5 * time.Second,
		Build:       30 * time.Second,
		Execute:     30 * time.Second,
	}
}

// MetricsCollector defines an interface for collecting request metrics
type MetricsCollector interface {
	RecordRequestDuration(method, path string, statusCode int, duration time.Duration)
	RecordRequestCount(method, path string, statusCode int)
	RecordRequestError(method, path string)
}

// NoopMetricsCollector is a metrics collector that does nothing
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRequestDuration(string, string, int, time.Duration) {}
func (NoopMetricsCollector) RecordRequestCount(string, string, int) {}
func (NoopMetricsCollector) RecordRequestError(string, string) {}

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithTimeouts overrides the per-request deadlines
func WithTimeouts(t Timeouts) Option {
	return func(g *Gateway) { g.timeouts = t }
}

// WithLogger sets the gateway logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(m MetricsCollector) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithDialer replaces the websocket dialer used by SubscribeQuotes
func WithDialer(d *websocket.Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

// Gateway is the typed client of the trading backend
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	timeouts   Timeouts
	maxRetries uint64
	log        *zap.Logger
	metrics    MetricsCollector
	dialer     *websocket.Dialer
}

// NewGateway creates a backend client for baseURL
func NewGateway(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeouts:   DefaultTimeouts(),
		maxRetries: 1,
		log:        logger.Named("gateway"),
		metrics:    NoopMetricsCollector{},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BaseURL returns the configured backend address
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// TradeParams are the shared fields of the gas-estimate and build calls
type TradeParams struct {
	QuoteID       string
	WalletAddress string
	Slippage      money.Amount
	GasPreference types.GasPreference
}

// AggregateQuotes asks every DEX source for a quote and returns the valid ones in server order
func (g *Gateway) AggregateQuotes(ctx context.Context, intent types.TradeIntent, wallet string) ([]types.Quote, error) {
	req := aggregateRequest{
		Chain:         intent.Chain,
		FromToken:     intent.FromToken,
		ToToken:       intent.ToToken,
		Amount:        intent.FromAmount.String(),
		Slippage:      intent.Slippage.String(),
		WalletAddress: wallet,
	}

	var resp aggregateResponse
	if err := g.post(ctx, PathAggregate, g.timeouts.Aggregate, true, "", req, &resp); err != nil {
		return nil, err
	}

	if resp.Success != nil && !*resp.Success {
		detail := resp.Detail
		if detail == "" {
			detail = resp.Error
		}
		if detail == "" {
			detail = "aggregation unsuccessful"
		}
		return nil, &Error{Kind: KindDomain, Op: PathAggregate, Detail: detail}
	}

	quotes := make([]types.Quote, 0, len(resp.Quotes))
	for _, w := range resp.Quotes {
		q, err := toQuote(w, intent.FromToken, intent.ToToken)
		if err != nil {
			g.log.Debug("Dropping invalid quote", zap.Error(err))
			continue
		}
		quotes = append(quotes, q)
	}

	if len(quotes) == 0 {
		return nil, &Error{Kind: KindDomain, Op: PathAggregate, Detail: ErrNoTradableQuotes.Error(), Err: ErrNoTradableQuotes}
	}

	g.log.Info("Quotes aggregated",
		zap.Int("received", len(resp.Quotes)),
		zap.Int("valid", len(quotes)))

	return quotes, nil
}

// AssessRisk fetches the backend's risk assessment for a token
func (g *Gateway) AssessRisk(ctx context.Context, chainName, tokenAddress string) (types.RiskSnapshot, error) {
	var resp riskResponse
	req := riskRequest{TokenAddress: tokenAddress, Chain: chainName}
	if err := g.post(ctx, PathRisk, g.timeouts.Risk, true, "", req, &resp); err != nil {
		return types.RiskSnapshot{}, err
	}

	score, err := optionalFloat(resp.Score)
	if err != nil || score == nil || resp.Tradeable == nil {
		return types.RiskSnapshot{}, &Error{Kind: KindProtocol, Op: PathRisk, Detail: "risk response missing score or tradeable", Err: err}
	}

	return types.RiskSnapshot{
		Score:           clampScore(*score),
		Category:        types.RiskCategory(strings.ToLower(strings.TrimSpace(resp.Category))),
		Tradeable:       *resp.Tradeable,
		PrimaryConcerns: resp.PrimaryConcerns,
	}, nil
}

// RefreshQuote re-prices a quote just before building
func (g *Gateway) RefreshQuote(ctx context.Context, quoteID string, traceID types.TraceID) (types.Quote, error) {
	if traceID == "" {
		return types.Quote{}, ErrMissingTraceID
	}

	var resp refreshResponse
	req := refreshRequest{QuoteID: quoteID, TraceID: traceID.String()}
	if err := g.post(ctx, PathRefresh, g.timeouts.Refresh, true, traceID, req, &resp); err != nil {
		return types.Quote{}, err
	}

	w := resp.wireQuote
	if resp.Quote != nil {
		w = *resp.Quote
	}
	if w.QuoteID == "" {
		w.QuoteID = quoteID
	}

	q, err := toQuote(w, "", "")
	if err != nil {
		return types.Quote{}, &Error{Kind: KindProtocol, Op: PathRefresh, Detail: "invalid refreshed quote", Err: err}
	}
	return q, nil
}

// EstimateGas asks the backend for the cost of executing a quote
func (g *Gateway) EstimateGas(ctx context.Context, p TradeParams, traceID types.TraceID) (types.GasEstimate, error) {
	if traceID == "" {
		return types.GasEstimate{}, ErrMissingTraceID
	}

	var resp gasResponse
	if err := g.post(ctx, PathGasEstimate, g.timeouts.GasEstimate, true, traceID, p.wire(traceID), &resp); err != nil {
		return types.GasEstimate{}, err
	}

	gwei, err1 := optionalFloat(resp.GasPriceGwei)
	usd, err2 := optionalFloat(resp.GasUSD)
	if err := errors.Join(err1, err2); err != nil || gwei == nil || usd == nil || *usd < 0 {
		return types.GasEstimate{}, &Error{Kind: KindProtocol, Op: PathGasEstimate, Detail: "malformed gas estimate", Err: err}
	}

	return types.GasEstimate{GasPriceGwei: *gwei, GasUSD: *usd}, nil
}

// BuildTransaction asks the backend for a wallet-ready transaction
func (g *Gateway) BuildTransaction(ctx context.Context, p TradeParams, traceID types.TraceID) (types.BuildResult, error) {
	if traceID == "" {
		return types.BuildResult{}, ErrMissingTraceID
	}

	var resp buildResponse
	if err := g.post(ctx, PathBuild, g.timeouts.Build, true, traceID, p.wire(traceID), &resp); err != nil {
		return types.BuildResult{}, err
	}

	tx := bytes.TrimSpace(resp.Transaction)
	if resp.TradeID == "" || len(tx) == 0 || string(tx) == "null" {
		return types.BuildResult{}, &Error{Kind: KindProtocol, Op: PathBuild, Detail: "build response missing trade_id or transaction"}
	}

	return types.BuildResult{TradeID: resp.TradeID, Transaction: json.RawMessage(tx)}, nil
}

// ExecuteTransaction submits a signed transaction. It is never retried:
// once the user has signed, a second submission is the backend's decision.
func (g *Gateway) ExecuteTransaction(ctx context.Context, signed, tradeID string, traceID types.TraceID) (types.ExecutionReceipt, error) {
	if traceID == "" {
		return types.ExecutionReceipt{}, ErrMissingTraceID
	}

	var resp executeResponse
	req := executeRequest{SignedTransaction: signed, TradeID: tradeID, TraceID: traceID.String()}
	if err := g.post(ctx, PathExecute, g.timeouts.Execute, false, traceID, req, &resp); err != nil {
		return types.ExecutionReceipt{}, err
	}

	status := strings.ToLower(resp.Status)
	if (resp.Success != nil && !*resp.Success) || status == "failed" || status == "rejected" {
		detail := resp.Detail
		if detail == "" {
			detail = resp.Message
		}
		if detail == "" {
			detail = "execution rejected"
		}
		return types.ExecutionReceipt{}, &Error{Kind: KindDomain, Op: PathExecute, Detail: detail}
	}

	receipt := types.ExecutionReceipt{
		TradeID: resp.TradeID,
		TxHash:  resp.TxHash,
		Status:  resp.Status,
		Message: resp.Message,
	}
	if receipt.TradeID == "" {
		receipt.TradeID = tradeID
	}
	return receipt, nil
}

func (p TradeParams) wire(traceID types.TraceID) tradeRequest {
	gas := p.GasPreference
	if gas == "" {
		gas = types.GasAuto
	}
	return tradeRequest{
		QuoteID:       p.QuoteID,
		WalletAddress: p.WalletAddress,
		Slippage:      p.Slippage.String(),
		GasPrice:      string(gas),
		TraceID:       traceID.String(),
	}
}

// post sends one JSON request, retrying at most maxRetries times with no
// backoff when retry is set and the failure is transport or 5xx.
func (g *Gateway) post(ctx context.Context, path string, timeout time.Duration, retry bool, traceID types.TraceID, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := g.attempt(ctx, path, timeout, traceID, body, out)
		if err == nil {
			return nil
		}

		var gwErr *Error
		if retry && errors.As(err, &gwErr) && gwErr.Retryable() {
			g.log.Warn("Retryable backend failure",
				zap.String("path", path),
				zap.String("trace_id", traceID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, g.maxRetries), ctx)
	err = backoff.Retry(operation, policy)
	if err == nil {
		return nil
	}

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		err = &Error{Kind: KindTransport, Op: path, Err: err}
	}
	return err
}

func (g *Gateway) attempt(ctx context.Context, path string, timeout time.Duration, traceID types.TraceID, body []byte, out interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if traceID != "" {
		req.Header.Set(TraceIDHeader, traceID.String())
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.metrics.RecordRequestError(http.MethodPost, path)
		g.log.Error("HTTP request failed",
			zap.String("path", path),
			zap.String("trace_id", traceID.String()),
			zap.Bool("timeout", IsTimeout(err)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return &Error{Kind: KindTransport, Op: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	g.metrics.RecordRequestDuration(http.MethodPost, path, resp.StatusCode, duration)
	g.metrics.RecordRequestCount(http.MethodPost, path, resp.StatusCode)
	if err != nil {
		g.metrics.RecordRequestError(http.MethodPost, path)
		return &Error{Kind: KindTransport, Op: path, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.metrics.RecordRequestError(http.MethodPost, path)
		detail := detailOf(data)
		kind := KindProtocol
		if resp.StatusCode < 500 && detail != "" {
			kind = KindDomain
		}
		g.log.Warn("HTTP error response",
			zap.String("path", path),
			zap.String("trace_id", traceID.String()),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail),
			zap.Duration("duration", duration))
		return &Error{Kind: kind, Op: path, StatusCode: resp.StatusCode, Detail: detail}
	}

	g.log.Debug("HTTP request successful",
		zap.String("path", path),
		zap.String("trace_id", traceID.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindProtocol, Op: path, StatusCode: resp.StatusCode, Detail: "malformed response body", Err: err}
	}
	return nil
}

func clampScore(f float64) int {
	return int(math.Round(math.Max(0, math.Min(100, f))))
}
