package safety

import (
	"fmt"

	"dex-console/pkg/money"
	"dex-console/pkg/types"
)

// Severity grades a check for display
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Key identifies a check; keys are stable across evaluations
type Key string

const (
	KeySufficientBalance     Key = "sufficientBalance"
	KeySlippageAcceptable    Key = "slippageAcceptable"
	KeyPriceImpactAcceptable Key = "priceImpactAcceptable"
	KeyRiskAcceptable        Key = "riskAcceptable"
)

// Check is one line of the pre-flight checklist
type Check struct {
	Key      Key
	Passed   bool
	Severity Severity
	Message  string
}

// Inputs to Evaluate. Nil pointers mean "not known"; the dependent check is omitted.
type Inputs struct {
	Intent  types.TradeIntent
	Quote   *types.Quote
	Risk    *types.RiskSnapshot
	Balance *money.Amount
	Gas     *types.GasEstimate
}

var (
	slippageSuccessMax = money.FromInt(5)
	slippagePassMax    = money.FromInt(10)
)

const (
	impactSuccessMax = 3.0
	impactWarningMax = 10.0
	impactPassMax    = 15.0

	riskSuccessMin = 70
	riskPassMin    = 30
)

// Evaluate builds the ordered checklist. It has no side effects, so equal
// inputs always give equal keys and severities.
func Evaluate(in Inputs) []Check {
	checks := make([]Check, 0, 4)

	if in.Balance != nil && in.Intent.FromAmount.IsPositive() {
		checks = append(checks, balanceCheck(*in.Balance, in.Intent))
	}
	checks = append(checks, slippageCheck(in.Intent.Slippage))
	if in.Quote != nil && in.Quote.HasPriceImpact() {
		checks = append(checks, priceImpactCheck(*in.Quote.PriceImpactPercent))
	}
	if in.Risk != nil {
		checks = append(checks, riskCheck(*in.Risk))
	}
	return checks
}

func balanceCheck(balance money.Amount, intent types.TradeIntent) Check {
	if balance.GreaterThanOrEqual(intent.FromAmount) {
		return Check{
			Key:      KeySufficientBalance,
			Passed:   true,
			Severity: SeveritySuccess,
			Message:  fmt.Sprintf("Balance %s %s covers the trade", balance, intent.FromToken),
		}
	}
	return Check{
		Key:      KeySufficientBalance,
		Passed:   false,
		Severity: SeverityError,
		Message:  fmt.Sprintf("Insufficient balance: have %s %s, need %s", balance, intent.FromToken, intent.FromAmount),
	}
}

func slippageCheck(slippage money.Amount) Check {
	c := Check{Key: KeySlippageAcceptable, Passed: slippage.LessThanOrEqual(slippagePassMax)}
	switch {
	case slippage.LessThanOrEqual(slippageSuccessMax):
		c.Severity = SeveritySuccess
		c.Message = fmt.Sprintf("Slippage tolerance %s%% is within normal range", slippage)
	case c.Passed:
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("Slippage tolerance %s%% is high", slippage)
	default:
		c.Severity = SeverityError
		c.Message = fmt.Sprintf("Slippage tolerance %s%% exceeds %s%%", slippage, slippagePassMax)
	}
	return c
}

func priceImpactCheck(impact float64) Check {
	c := Check{Key: KeyPriceImpactAcceptable, Passed: impact <= impactPassMax}
	switch {
	case impact <= impactSuccessMax:
		c.Severity = SeveritySuccess
		c.Message = fmt.Sprintf("Price impact %.2f%% is low", impact)
	case impact <= impactWarningMax:
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("Price impact %.2f%% is significant", impact)
	default:
		c.Severity = SeverityError
		c.Message = fmt.Sprintf("Price impact %.2f%% is severe", impact)
	}
	return c
}

func riskCheck(r types.RiskSnapshot) Check {
	c := Check{Key: KeyRiskAcceptable, Passed: r.Tradeable && r.Score >= riskPassMin}
	switch {
	case !r.Tradeable:
		c.Severity = SeverityError
		c.Message = "Token is flagged as not tradeable"
	case r.Score >= riskSuccessMin:
		c.Severity = SeveritySuccess
		c.Message = fmt.Sprintf("Risk score %d/100 (%s)", r.Score, r.Category)
	case r.Score >= riskPassMin:
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("Elevated risk: score %d/100 (%s)", r.Score, r.Category)
	default:
		c.Severity = SeverityError
		c.Message = fmt.Sprintf("High risk: score %d/100 (%s)", r.Score, r.Category)
	}
	return c
}

// Find returns the check with key k
func Find(checks []Check, k Key) (Check, bool) {
	for _, c := range checks {
		if c.Key == k {
			return c, true
		}
	}
	return Check{}, false
}

// InsufficientBalance reports whether the balance check ran and failed
func InsufficientBalance(checks []Check) bool {
	c, ok := Find(checks, KeySufficientBalance)
	return ok && !c.Passed
}
