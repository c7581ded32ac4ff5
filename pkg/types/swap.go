package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dex-console/pkg/money"
)

// GasPreference is the user's gas speed choice, sent to the backend verbatim
type GasPreference string

const (
	GasAuto     GasPreference = "auto"
	GasFast     GasPreference = "fast"
	GasStandard GasPreference = "standard"
	GasSlow     GasPreference = "slow"
)

// ParseGasPreference validates a gas preference string
func ParseGasPreference(s string) (GasPreference, error) {
	switch p := GasPreference(strings.ToLower(strings.TrimSpace(s))); p {
	case GasAuto, GasFast, GasStandard, GasSlow:
		return p, nil
	case "":
		return GasAuto, nil
	default:
		return "", fmt.Errorf("gas preference must be 'auto', 'fast', 'standard' or 'slow', got '%s'", s)
	}
}

// MaxSlippage is the upper bound on the slippage tolerance in percent
var MaxSlippage = money.FromInt(50)

// TradeIntent is the user-authored swap request
type TradeIntent struct {
	Chain         string        // symbolic chain name
	FromToken     string        // symbol or address
	ToToken       string        // address, or the native symbol
	FromAmount    money.Amount  // positive
	Slippage      money.Amount  // percent, 0..50
	GasPreference GasPreference
}

// Quote is one DEX's offer for the intent amount
type Quote struct {
	QuoteID            string
	Dex                string
	OutputAmount       money.Amount
	PriceImpactPercent *float64 // nil when the backend did not report it
	GasCostUSD         *float64
	Route              []string
	Version            string
}

// HasPriceImpact reports whether the price impact is known
func (q *Quote) HasPriceImpact() bool {
	return q != nil && q.PriceImpactPercent != nil
}

// RiskCategory is the backend's coarse risk bucket
type RiskCategory string

const (
	RiskLow      RiskCategory = "low"
	RiskMedium   RiskCategory = "medium"
	RiskModerate RiskCategory = "moderate"
	RiskHigh     RiskCategory = "high"
	RiskCritical RiskCategory = "critical"
)

// RiskSnapshot is the last risk assessment for a destination token
type RiskSnapshot struct {
	Score           int
	Category        RiskCategory
	Tradeable       bool
	PrimaryConcerns []string
	Synthetic       bool // true for the native-asset short circuit
}

// NativeRiskSnapshot is used for native assets instead of asking the backend
func NativeRiskSnapshot() RiskSnapshot {
	return RiskSnapshot{Score: 95, Category: RiskLow, Tradeable: true, Synthetic: true}
}

// GasEstimate is the backend's cost estimate for a built trade
type GasEstimate struct {
	GasPriceGwei float64
	GasUSD       float64
}

// BuildResult is the wallet-ready payload returned by the build call
type BuildResult struct {
	TradeID     string
	Transaction json.RawMessage // opaque to the console, consumed by the wallet
}

// ExecutionReceipt is the backend's acceptance of a signed trade
type ExecutionReceipt struct {
	TradeID string
	TxHash  string
	Status  string
	Message string
}

// QuoteUpdate is one frame of the quote stream
type QuoteUpdate struct {
	Quotes     []Quote
	ReceivedAt time.Time
	Err        error
}
