package safety

import (
	"dex-console/pkg/money"
	"dex-console/pkg/types"
)

// RiskPhrase must be typed verbatim to confirm a high-risk trade
const RiskPhrase = "I UNDERSTAND THE RISKS"

var (
	slippageAckAbove      = money.FromInt(2)
	slippageHighRiskAbove = money.FromInt(5)
)

const highRiskScoreBelow = 50

// Acknowledgments are the user's checkbox answers
type Acknowledgments struct {
	AmountVerified   bool
	SlippageAccepted bool
	RiskAccepted     bool
}

// Requirements lists what the gate needs for the current inputs
type Requirements struct {
	AmountVerified   bool
	SlippageAccepted bool
	HighRisk         bool // riskAccepted and the typed phrase are needed
	Blocked          bool // a present snapshot says the token is not tradeable
}

// IsHighRisk is the disjunction of the high-risk conditions. A "moderate"
// category alone does not make a trade high risk.
func IsHighRisk(slippage money.Amount, risk *types.RiskSnapshot) bool {
	if slippage.GreaterThan(slippageHighRiskAbove) {
		return true
	}
	if risk == nil {
		return false
	}
	return risk.Score < highRiskScoreBelow || risk.Category == types.RiskHigh || !risk.Tradeable
}

// Require derives the acknowledgments needed for slippage and risk
func Require(slippage money.Amount, risk *types.RiskSnapshot) Requirements {
	return Requirements{
		AmountVerified:   true,
		SlippageAccepted: slippage.GreaterThan(slippageAckAbove),
		HighRisk:         IsHighRisk(slippage, risk),
		Blocked:          risk != nil && !risk.Tradeable,
	}
}

// PhraseMatches compares exactly: no trimming, no case folding
func PhraseMatches(typed string) bool {
	return typed == RiskPhrase
}

// Open reports whether Confirm may fire
func (r Requirements) Open(acks Acknowledgments, phraseMatched bool) bool {
	if r.Blocked {
		return false
	}
	if r.AmountVerified && !acks.AmountVerified {
		return false
	}
	if r.SlippageAccepted && !acks.SlippageAccepted {
		return false
	}
	if r.HighRisk && (!acks.RiskAccepted || !phraseMatched) {
		return false
	}
	return true
}

// Missing names the unmet requirements, for prompts
func (r Requirements) Missing(acks Acknowledgments, phraseMatched bool) []string {
	var out []string
	if r.Blocked {
		out = append(out, "tradeable token")
	}
	if r.AmountVerified && !acks.AmountVerified {
		out = append(out, "amountVerified")
	}
	if r.SlippageAccepted && !acks.SlippageAccepted {
		out = append(out, "slippageAccepted")
	}
	if r.HighRisk && !acks.RiskAccepted {
		out = append(out, "riskAccepted")
	}
	if r.HighRisk && !phraseMatched {
		out = append(out, "risk phrase")
	}
	return out
}
