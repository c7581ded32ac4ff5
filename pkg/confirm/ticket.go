package confirm

import (
	"time"

	"dex-console/pkg/intent"
	"dex-console/pkg/money"
	"dex-console/pkg/safety"
	"dex-console/pkg/types"
)

// Notice is a non-blocking finding shown next to the safety checks
type Notice struct {
	Kind     ErrorKind // empty for plain information
	Severity safety.Severity
	Message  string
}

// Ticket is the record of one confirmation attempt
type Ticket struct {
	TraceID               types.TraceID
	Phase                 Phase
	Acks                  safety.Acknowledgments
	HighRiskPhraseMatched bool
	CreatedAt             time.Time

	Intent      types.TradeIntent
	Fingerprint intent.Fingerprint
	Quote       types.Quote   // selected quote, replaced by the refresh
	Reviewed    money.Amount  // output amount the user saw before confirming
	Delta       *money.Amount // percent change of the refreshed output, when refreshed

	Risk         *types.RiskSnapshot
	Balance      *money.Amount
	Gas          *types.GasEstimate
	Checks       []safety.Check
	Requirements safety.Requirements
	Notices      []Notice

	Build   *types.BuildResult
	Receipt *types.ExecutionReceipt
	Err     *FlowError

	cancelRequested bool
}

// GateOpen reports whether Confirm would proceed
func (t *Ticket) GateOpen() bool {
	return t.Phase == PhaseAwaitingConfirmations && t.Requirements.Open(t.Acks, t.HighRiskPhraseMatched)
}

// CancelRequested reports a cancel waiting for the wallet to resolve
func (t *Ticket) CancelRequested() bool {
	return t.cancelRequested
}

func (t *Ticket) addNotice(n Notice) {
	for _, existing := range t.Notices {
		if existing == n {
			return
		}
	}
	t.Notices = append(t.Notices, n)
}

// clone copies everything a reader could mutate
func (t *Ticket) clone() Ticket {
	c := *t
	c.Quote.Route = append([]string(nil), t.Quote.Route...)
	c.Checks = append([]safety.Check(nil), t.Checks...)
	c.Notices = append([]Notice(nil), t.Notices...)
	if t.Delta != nil {
		d := *t.Delta
		c.Delta = &d
	}
	if t.Risk != nil {
		r := *t.Risk
		r.PrimaryConcerns = append([]string(nil), t.Risk.PrimaryConcerns...)
		c.Risk = &r
	}
	if t.Balance != nil {
		b := *t.Balance
		c.Balance = &b
	}
	if t.Gas != nil {
		g := *t.Gas
		c.Gas = &g
	}
	if t.Build != nil {
		b := *t.Build
		c.Build = &b
	}
	if t.Receipt != nil {
		r := *t.Receipt
		c.Receipt = &r
	}
	if t.Err != nil {
		e := *t.Err
		c.Err = &e
	}
	return c
}

// Event is published after every transition. From equals To when the ticket
// was updated in place by Reevaluate.
type Event struct {
	TraceID types.TraceID
	From    Phase
	To      Phase
	Kind    ErrorKind
	At      time.Time
}

// Listener receives events outside the controller lock
type Listener func(Event)
