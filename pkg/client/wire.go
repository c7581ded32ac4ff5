package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"dex-console/pkg/money"
	"dex-console/pkg/types"
)

// Request bodies mirror the backend's snake_case JSON

type aggregateRequest struct {
	Chain         string `json:"chain"`
	FromToken     string `json:"from_token"`
	ToToken       string `json:"to_token"`
	Amount        string `json:"amount"`
	Slippage      string `json:"slippage"`
	WalletAddress string `json:"wallet_address"`
}

type riskRequest struct {
	TokenAddress string `json:"token_address"`
	Chain        string `json:"chain"`
}

type refreshRequest struct {
	QuoteID string `json:"quote_id"`
	TraceID string `json:"trace_id"`
}

type tradeRequest struct {
	QuoteID       string `json:"quote_id"`
	WalletAddress string `json:"wallet_address"`
	Slippage      string `json:"slippage"`
	GasPrice      string `json:"gas_price"`
	TraceID       string `json:"trace_id"`
}

type executeRequest struct {
	SignedTransaction string `json:"signed_transaction"`
	TradeID           string `json:"trade_id"`
	TraceID           string `json:"trace_id"`
}

// Response bodies

type wireQuote struct {
	QuoteID      string          `json:"quote_id"`
	Dex          string          `json:"dex"`
	OutputAmount json.RawMessage `json:"output_amount"`
	PriceImpact  json.RawMessage `json:"price_impact"`
	GasEstimate  json.RawMessage `json:"gas_estimate"`
	Route        []string        `json:"route"`
	Version      string          `json:"version"`
}

type aggregateResponse struct {
	Success *bool       `json:"success"`
	Quotes  []wireQuote `json:"quotes"`
	Detail  string      `json:"detail"`
	Error   string      `json:"error"`
}

type refreshResponse struct {
	wireQuote
	Quote *wireQuote `json:"quote"`
}

type riskResponse struct {
	Score           json.RawMessage `json:"score"`
	Category        string          `json:"category"`
	Tradeable       *bool           `json:"tradeable"`
	PrimaryConcerns []string        `json:"primary_concerns"`
}

type gasResponse struct {
	GasPriceGwei json.RawMessage `json:"gas_price_gwei"`
	GasUSD       json.RawMessage `json:"gas_usd"`
}

type buildResponse struct {
	TradeID     string          `json:"trade_id"`
	Transaction json.RawMessage `json:"transaction"`
}

type executeResponse struct {
	Success *bool  `json:"success"`
	TradeID string `json:"trade_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// detailOf extracts a human-readable message from an error payload.
// FastAPI-style validation errors carry a list in "detail"; those are flattened.
func detailOf(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(eb.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}

// numeric accepts a JSON number or a numeric string
func numeric(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), s != ""
	}
	return string(raw), true
}

func optionalFloat(raw json.RawMessage) (*float64, error) {
	s, ok := numeric(raw)
	if !ok {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a number: %s", s)
	}
	return &f, nil
}

// toQuote validates one wire quote. Quotes with a missing dex, a missing id
// or a non-numeric / non-positive output are rejected.
func toQuote(w wireQuote, fromToken, toToken string) (types.Quote, error) {
	if strings.TrimSpace(w.Dex) == "" {
		return types.Quote{}, fmt.Errorf("quote %q: missing dex", w.QuoteID)
	}
	if strings.TrimSpace(w.QuoteID) == "" {
		return types.Quote{}, fmt.Errorf("quote from %s: missing quote_id", w.Dex)
	}
	out, ok := numeric(w.OutputAmount)
	if !ok {
		return types.Quote{}, fmt.Errorf("quote %q: missing output_amount", w.QuoteID)
	}
	amount, err := money.ParsePositive(out)
	if err != nil {
		return types.Quote{}, fmt.Errorf("quote %q: output_amount: %w", w.QuoteID, err)
	}

	q := types.Quote{
		QuoteID:      w.QuoteID,
		Dex:          w.Dex,
		OutputAmount: amount,
		Route:        w.Route,
		Version:      w.Version,
	}

	// Optional fields that fail to parse are treated as unknown
	if impact, err := optionalFloat(w.PriceImpact); err == nil && impact != nil && *impact >= 0 {
		q.PriceImpactPercent = impact
	}
	if gas, err := optionalFloat(w.GasEstimate); err == nil && gas != nil && *gas >= 0 {
		q.GasCostUSD = gas
	}
	if len(q.Route) < 2 && fromToken != "" && toToken != "" {
		q.Route = []string{fromToken, toToken}
	}
	return q, nil
}
