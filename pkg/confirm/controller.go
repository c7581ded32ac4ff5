package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-console/pkg/chain"
	"dex-console/pkg/client"
	"dex-console/pkg/intent"
	"dex-console/pkg/logger"
	"dex-console/pkg/money"
	"dex-console/pkg/quotes"
	"dex-console/pkg/risk"
	"dex-console/pkg/safety"
	"dex-console/pkg/types"
	"dex-console/pkg/wallet"
)

// Gateway is the part of the backend client the confirmation flow calls.
// *client.Gateway implements it.
type Gateway interface {
	RefreshQuote(ctx context.Context, quoteID string, traceID types.TraceID) (types.Quote, error)
	EstimateGas(ctx context.Context, p client.TradeParams, traceID types.TraceID) (types.GasEstimate, error)
	BuildTransaction(ctx context.Context, p client.TradeParams, traceID types.TraceID) (types.BuildResult, error)
	ExecuteTransaction(ctx context.Context, signed, tradeID string, traceID types.TraceID) (types.ExecutionReceipt, error)
}

// TransitionRecorder counts phase transitions; *metrics.Collector implements it
type TransitionRecorder interface {
	RecordTransition(phase string)
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(string) {}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithTransitionRecorder sets the transition metrics sink
func WithTransitionRecorder(r TransitionRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithListener subscribes l to transition events
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTraceIDs replaces the trace id generator
func WithTraceIDs(gen func(time.Time) types.TraceID) Option {
	return func(c *Controller) { c.newTraceID = gen }
}

// Controller drives one trade from a selected quote to a terminal phase.
//
// All state is guarded by mu. The lock is released around every network and
// wallet call and taken again before the result is applied, so readers always
// see the phase of the last completed transition.
type Controller struct {
	mu         sync.Mutex
	gateway    Gateway
	wallet     wallet.Wallet
	intents    *intent.Store
	quotes     *quotes.Set
	risks      *risk.Cache
	log        *zap.Logger
	recorder   TransitionRecorder
	listener   Listener
	now        func() time.Time
	newTraceID func(time.Time) types.TraceID

	ticket   *Ticket
	inFlight bool
	abort    context.CancelFunc
	pending  []Event
}

// NewController wires the flow to its collaborators
func NewController(gw Gateway, w wallet.Wallet, intents *intent.Store, set *quotes.Set, risks *risk.Cache, opts ...Option) *Controller {
	c := &Controller{
		gateway:    gw,
		wallet:     w,
		intents:    intents,
		quotes:     set,
		risks:      risks,
		log:        logger.Named("confirm"),
		recorder:   noopRecorder{},
		now:        time.Now,
		newTraceID: types.NewTraceID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// unlock releases mu and then delivers queued events
func (c *Controller) unlock() {
	events := c.pending
	c.pending = nil
	c.mu.Unlock()
	if c.listener == nil {
		return
	}
	for _, e := range events {
		c.listener(e)
	}
}

// await runs call with mu released. The caller holds mu and holds it again
// when await returns. A cancellable call gets a context that Cancel aborts.
// ErrCancelled is returned when the ticket was cancelled or closed meanwhile.
func (c *Controller) await(ctx context.Context, t *Ticket, cancellable bool, call func(context.Context) error) error {
	callCtx, abort := ctx, context.CancelFunc(func() {})
	if cancellable {
		callCtx, abort = context.WithCancel(ctx)
		c.abort = abort
	}
	c.inFlight = true
	c.unlock()

	err := call(callCtx)

	c.mu.Lock()
	abort()
	c.inFlight = false
	c.abort = nil
	if c.ticket != t || t.Phase == PhaseCancelled {
		return ErrCancelled
	}
	return err
}

func fields(t *Ticket, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("trace_id", string(t.TraceID)),
		zap.String("phase", string(t.Phase)),
	}, extra...)
}

func (c *Controller) transition(t *Ticket, to Phase) bool {
	from := t.Phase
	if !from.CanAdvanceTo(to) {
		c.log.DPanic("Illegal phase transition", fields(t, zap.String("to", string(to)))...)
		return false
	}
	t.Phase = to
	c.recorder.RecordTransition(string(to))

	var kind ErrorKind
	if t.Err != nil {
		kind = t.Err.Kind
	}
	logFields := fields(t, zap.String("from", string(from)))
	if kind != "" {
		logFields = append(logFields, zap.String("error_kind", string(kind)))
	}
	c.log.Info("Phase transition", logFields...)

	c.pending = append(c.pending, Event{TraceID: t.TraceID, From: from, To: to, Kind: kind, At: c.now()})
	return true
}

func (c *Controller) fail(t *Ticket, kind ErrorKind, err error) *FlowError {
	fErr := &FlowError{Kind: kind, Phase: t.Phase, TraceID: t.TraceID, Err: err}
	t.Err = fErr
	c.log.Error("Confirmation failed", fields(t, zap.String("error_kind", string(kind)), zap.Error(err))...)
	c.transition(t, PhaseFailed)
	return fErr
}

func (c *Controller) notice(t *Ticket, n Notice) {
	t.addNotice(n)
	logFields := fields(t, zap.String("severity", string(n.Severity)), zap.String("message", n.Message))
	if n.Kind != "" {
		logFields = append(logFields, zap.String("error_kind", string(n.Kind)))
	}
	c.log.Warn("Safety notice", logFields...)
}

// Open starts a confirmation for the selected quote. It mints a new trace id,
// gathers balance, risk and gas estimate, and leaves the ticket awaiting
// acknowledgments. Failures while gathering become notices.
func (c *Controller) Open(ctx context.Context) (Ticket, error) {
	c.mu.Lock()
	defer c.unlock()

	if c.ticket != nil && !c.ticket.Phase.Terminal() {
		return Ticket{}, ErrAlreadyOpen
	}

	fp := c.intents.Fingerprint()
	ti, err := c.intents.Intent()
	if err != nil {
		return Ticket{}, fmt.Errorf("invalid trade intent: %w", err)
	}
	q, err := c.quotes.ForConfirmation(fp)
	if err != nil {
		return Ticket{}, err
	}

	now := c.now()
	t := &Ticket{
		TraceID:     c.newTraceID(now),
		Phase:       PhaseIdle,
		CreatedAt:   now,
		Intent:      ti,
		Fingerprint: fp,
		Quote:       q,
		Reviewed:    q.OutputAmount,
	}
	c.ticket = t
	c.transition(t, PhaseReview)
	c.transition(t, PhaseSafetyCheck)

	walletReady := c.prepareWallet(ctx, t)
	if err := c.fetchRisk(ctx, t); err != nil {
		return t.clone(), err
	}
	if walletReady {
		if err := c.fetchBalance(ctx, t); err != nil {
			return t.clone(), err
		}
		if err := c.fetchGas(ctx, t); err != nil {
			return t.clone(), err
		}
	}

	c.evaluate(t)
	c.transition(t, PhaseAwaitingConfirmations)
	return t.clone(), nil
}

// prepareWallet puts the wallet on the intent's chain. It reports whether
// balance and gas can be fetched.
func (c *Controller) prepareWallet(ctx context.Context, t *Ticket) bool {
	if !c.wallet.Connected() {
		c.notice(t, Notice{Severity: safety.SeverityInfo, Message: "Wallet not connected; balance and gas are unavailable"})
		return false
	}
	if err := c.alignChain(ctx, t); err != nil {
		c.notice(t, Notice{Severity: safety.SeverityWarning, Message: err.Error()})
		return false
	}
	return true
}

// alignChain asks the wallet to switch when it is on another network
func (c *Controller) alignChain(ctx context.Context, t *Ticket) error {
	want, err := chain.ByName(t.Intent.Chain)
	if err != nil {
		return err
	}
	if c.wallet.ChainID() == want.ID {
		return nil
	}
	if err := c.wallet.SwitchChain(ctx, want.ID); err != nil {
		return fmt.Errorf("wallet is on chain %s and could not switch to %s: %w", c.wallet.ChainID(), want.Name, err)
	}
	return nil
}

func (c *Controller) fetchRisk(ctx context.Context, t *Ticket) error {
	var snap types.RiskSnapshot
	err := c.await(ctx, t, true, func(ctx context.Context) error {
		var err error
		snap, err = c.risks.Refresh(ctx, t.Intent.Chain, t.Intent.ToToken)
		return err
	})
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if err != nil {
		prior, ok := c.risks.Peek(t.Intent.Chain, t.Intent.ToToken)
		if !ok {
			c.notice(t, Notice{Severity: safety.SeverityWarning, Message: "Risk assessment unavailable"})
			return nil
		}
		c.notice(t, Notice{Severity: safety.SeverityWarning, Message: "Risk assessment failed; showing the previous result"})
		snap = prior
	}
	t.Risk = &snap
	return nil
}

func (c *Controller) fetchBalance(ctx context.Context, t *Ticket) error {
	network, _ := chain.ByName(t.Intent.Chain)
	tb, canReadTokens := c.wallet.(wallet.TokenBalancer)
	native := network.IsNative(t.Intent.FromToken)
	if !native && !canReadTokens {
		return nil
	}

	var balance money.Amount
	err := c.await(ctx, t, true, func(ctx context.Context) error {
		var err error
		if native {
			balance, err = c.wallet.NativeBalance(ctx)
		} else {
			balance, err = tb.TokenBalance(ctx, t.Intent.FromToken)
		}
		return err
	})
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if err != nil {
		c.log.Warn("Balance lookup failed", fields(t, zap.Error(err))...)
		c.notice(t, Notice{Severity: safety.SeverityWarning, Message: "Balance unavailable"})
		t.Balance = nil
		return nil
	}
	t.Balance = &balance
	return nil
}

func (c *Controller) tradeParams(t *Ticket) client.TradeParams {
	return client.TradeParams{
		QuoteID:       t.Quote.QuoteID,
		WalletAddress: c.wallet.Address(),
		Slippage:      t.Intent.Slippage,
		GasPreference: t.Intent.GasPreference,
	}
}

func (c *Controller) fetchGas(ctx context.Context, t *Ticket) error {
	params := c.tradeParams(t)
	var gas types.GasEstimate
	err := c.await(ctx, t, true, func(ctx context.Context) error {
		var err error
		gas, err = c.gateway.EstimateGas(ctx, params, t.TraceID)
		return err
	})
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if err != nil {
		c.notice(t, Notice{Severity: safety.SeverityWarning, Message: "Gas estimate unavailable"})
		t.Gas = nil
		return nil
	}
	t.Gas = &gas
	return nil
}

func (c *Controller) evaluate(t *Ticket) {
	q := t.Quote
	t.Checks = safety.Evaluate(safety.Inputs{
		Intent:  t.Intent,
		Quote:   &q,
		Risk:    t.Risk,
		Balance: t.Balance,
		Gas:     t.Gas,
	})
	t.Requirements = safety.Require(t.Intent.Slippage, t.Risk)
	if t.Requirements.Blocked {
		c.notice(t, Notice{Kind: KindUntradeableToken, Severity: safety.SeverityError, Message: KindUntradeableToken.Message()})
	}
}

func (c *Controller) awaiting() (*Ticket, error) {
	t := c.ticket
	if t == nil || t.Phase.Terminal() {
		return nil, ErrNotOpen
	}
	if t.Phase != PhaseAwaitingConfirmations {
		return nil, ErrNotAwaiting
	}
	return t, nil
}

// Acknowledge replaces the acknowledgment checkboxes
func (c *Controller) Acknowledge(acks safety.Acknowledgments) error {
	c.mu.Lock()
	defer c.unlock()

	t, err := c.awaiting()
	if err != nil {
		return err
	}
	t.Acks = acks
	c.log.Debug("Acknowledgments updated", fields(t,
		zap.Bool("amount_verified", acks.AmountVerified),
		zap.Bool("slippage_accepted", acks.SlippageAccepted),
		zap.Bool("risk_accepted", acks.RiskAccepted))...)
	return nil
}

// TypePhrase records the typed high-risk phrase and reports whether it matched
func (c *Controller) TypePhrase(typed string) (bool, error) {
	c.mu.Lock()
	defer c.unlock()

	t, err := c.awaiting()
	if err != nil {
		return false, err
	}
	t.HighRiskPhraseMatched = safety.PhraseMatches(typed)
	return t.HighRiskPhraseMatched, nil
}

// GateOpen reports whether Confirm would proceed right now
func (c *Controller) GateOpen() bool {
	c.mu.Lock()
	defer c.unlock()
	return c.ticket != nil && !c.inFlight && c.ticket.GateOpen()
}

// Confirm runs refresh, build, sign and execute in that order. It is a no-op
// returning ErrGateClosed while acknowledgments are missing, and ErrBusy or
// ErrNotAwaiting while another step is running.
func (c *Controller) Confirm(ctx context.Context) (types.ExecutionReceipt, error) {
	c.mu.Lock()
	defer c.unlock()

	if c.inFlight {
		return types.ExecutionReceipt{}, ErrBusy
	}
	t, err := c.awaiting()
	if err != nil {
		return types.ExecutionReceipt{}, err
	}
	if !t.Requirements.Open(t.Acks, t.HighRiskPhraseMatched) {
		c.log.Debug("Confirm ignored, gate closed",
			fields(t, zap.Strings("missing", t.Requirements.Missing(t.Acks, t.HighRiskPhraseMatched)))...)
		return types.ExecutionReceipt{}, ErrGateClosed
	}
	if safety.InsufficientBalance(t.Checks) {
		return types.ExecutionReceipt{}, &FlowError{Kind: KindInsufficientBalance, Phase: t.Phase, TraceID: t.TraceID}
	}
	if c.intents.Fingerprint() != t.Fingerprint || c.quotes.IsStaleFor(t.Fingerprint) {
		return types.ExecutionReceipt{}, ErrStaleQuotes
	}
	if !c.wallet.Connected() {
		return types.ExecutionReceipt{}, wallet.ErrNotConnected
	}

	c.transition(t, PhaseRefreshing)
	if err := c.refresh(ctx, t); err != nil {
		return types.ExecutionReceipt{}, err
	}
	c.transition(t, PhaseBuilding)
	return c.buildSignExecute(ctx, t)
}

func (c *Controller) refresh(ctx context.Context, t *Ticket) error {
	var fresh types.Quote
	err := c.await(ctx, t, true, func(ctx context.Context) error {
		var err error
		fresh, err = c.gateway.RefreshQuote(ctx, t.Quote.QuoteID, t.TraceID)
		return err
	})
	switch {
	case errors.Is(err, ErrCancelled):
		return err
	case client.IsTransport(err):
		c.log.Warn("Quote refresh unreachable, reusing reviewed quote", fields(t, zap.Error(err))...)
		c.notice(t, Notice{
			Kind:     KindNetworkUnavailable,
			Severity: safety.SeverityWarning,
			Message:  "Quote could not be refreshed; using the quote you reviewed",
		})
		return nil
	case err != nil:
		return c.fail(t, KindQuoteRefreshFailed, err)
	}

	if change, ok := money.PercentChange(t.Reviewed, fresh.OutputAmount); ok {
		t.Delta = &change
		if change.Abs().GreaterThan(t.Intent.Slippage) {
			c.notice(t, Notice{
				Kind:     KindQuoteStale,
				Severity: safety.SeverityWarning,
				Message:  fmt.Sprintf("Refreshed output %s differs from reviewed %s by %s%%", fresh.OutputAmount, t.Reviewed, change.StringFixed(2)),
			})
		}
	}
	t.Quote = fresh
	if err := c.quotes.ReplaceSelected(fresh); err != nil {
		c.log.Debug("Quote set no longer holds the selection", fields(t, zap.Error(err))...)
	}
	return nil
}

func (c *Controller) buildSignExecute(ctx context.Context, t *Ticket) (types.ExecutionReceipt, error) {
	params := c.tradeParams(t)
	var build types.BuildResult
	err := c.await(ctx, t, true, func(ctx context.Context) error {
		var err error
		build, err = c.gateway.BuildTransaction(ctx, params, t.TraceID)
		return err
	})
	switch {
	case errors.Is(err, ErrCancelled):
		return types.ExecutionReceipt{}, err
	case client.IsTransport(err):
		// stays in Building until Retry or Cancel
		t.Err = &FlowError{Kind: KindNetworkUnavailable, Phase: t.Phase, TraceID: t.TraceID, Err: err}
		c.log.Warn("Build unreachable", fields(t, zap.String("error_kind", string(KindNetworkUnavailable)), zap.Error(err))...)
		c.pending = append(c.pending, Event{TraceID: t.TraceID, From: t.Phase, To: t.Phase, Kind: KindNetworkUnavailable, At: c.now()})
		return types.ExecutionReceipt{}, t.Err
	case err != nil:
		return types.ExecutionReceipt{}, c.fail(t, KindBuildFailed, err)
	}
	t.Err = nil
	t.Build = &build

	c.transition(t, PhaseSigning)
	if err := c.alignChain(ctx, t); err != nil {
		return types.ExecutionReceipt{}, c.fail(t, KindSigningFailed, err)
	}

	var signed string
	err = c.await(context.WithoutCancel(ctx), t, false, func(ctx context.Context) error {
		var err error
		signed, err = c.wallet.SignTransaction(ctx, build.Transaction)
		return err
	})
	switch {
	case errors.Is(err, ErrCancelled):
		return types.ExecutionReceipt{}, err
	case wallet.IsUserRejection(err):
		t.Err = &FlowError{Kind: KindUserRejectedSigning, Phase: t.Phase, TraceID: t.TraceID, Err: err}
		c.transition(t, PhaseCancelled)
		return types.ExecutionReceipt{}, t.Err
	case err != nil:
		return types.ExecutionReceipt{}, c.fail(t, KindSigningFailed, err)
	}
	if t.cancelRequested {
		c.log.Info("Signed transaction discarded after cancel", fields(t)...)
		c.transition(t, PhaseCancelled)
		return types.ExecutionReceipt{}, ErrCancelled
	}

	c.transition(t, PhaseExecuting)
	var receipt types.ExecutionReceipt
	err = c.await(ctx, t, false, func(ctx context.Context) error {
		var err error
		receipt, err = c.gateway.ExecuteTransaction(ctx, signed, build.TradeID, t.TraceID)
		return err
	})
	switch {
	case errors.Is(err, ErrCancelled):
		return types.ExecutionReceipt{}, err
	case client.IsTransport(err):
		return types.ExecutionReceipt{}, c.fail(t, KindNetworkUnavailable, err)
	case err != nil:
		return types.ExecutionReceipt{}, c.fail(t, KindExecutionFailed, err)
	}

	t.Receipt = &receipt
	c.transition(t, PhaseCompleted)
	c.log.Info("Trade submitted", fields(t,
		zap.String("trade_id", receipt.TradeID),
		zap.String("tx_hash", receipt.TxHash),
		zap.String("status", receipt.Status))...)
	return receipt, nil
}

// Retry re-issues a build that failed on the network, with the same trace id
func (c *Controller) Retry(ctx context.Context) (types.ExecutionReceipt, error) {
	c.mu.Lock()
	defer c.unlock()

	t := c.ticket
	if t == nil || t.Phase.Terminal() {
		return types.ExecutionReceipt{}, ErrNotOpen
	}
	if c.inFlight {
		return types.ExecutionReceipt{}, ErrBusy
	}
	if t.Phase != PhaseBuilding || t.Err == nil || t.Err.Kind != KindNetworkUnavailable {
		return types.ExecutionReceipt{}, ErrNothingToRetry
	}
	c.log.Info("Retrying build", fields(t)...)
	return c.buildSignExecute(ctx, t)
}

// Cancel abandons the ticket. Before signing it is immediate and aborts the
// in-flight request. During signing it is recorded and applied once the
// wallet answers. After signing it returns ErrCannotCancel.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.unlock()

	t := c.ticket
	if t == nil || t.Phase.Terminal() {
		return ErrNotOpen
	}
	if t.Phase == PhaseSigning {
		t.cancelRequested = true
		c.log.Info("Cancel deferred until the wallet resolves", fields(t)...)
		return nil
	}
	if !t.Phase.preSigning() {
		return ErrCannotCancel
	}
	if c.abort != nil {
		c.abort()
	}
	c.transition(t, PhaseCancelled)
	return nil
}

// Close discards the ticket, cancelling it first when still open
func (c *Controller) Close() error {
	c.mu.Lock()
	t := c.ticket
	if t == nil {
		c.unlock()
		return nil
	}
	if !t.Phase.Terminal() && !t.Phase.preSigning() {
		c.unlock()
		return ErrBusy
	}
	if !t.Phase.Terminal() {
		if c.abort != nil {
			c.abort()
		}
		c.transition(t, PhaseCancelled)
	}
	c.ticket = nil
	c.unlock()
	return nil
}

// Reevaluate recomputes the checks after an input change while awaiting
// acknowledgments. A different selected quote gets a new gas estimate.
func (c *Controller) Reevaluate(ctx context.Context) (Ticket, error) {
	c.mu.Lock()
	defer c.unlock()

	if c.inFlight {
		return Ticket{}, ErrBusy
	}
	t, err := c.awaiting()
	if err != nil {
		return Ticket{}, err
	}
	if c.intents.Fingerprint() != t.Fingerprint {
		return t.clone(), ErrStaleQuotes
	}
	q, err := c.quotes.ForConfirmation(t.Fingerprint)
	if err != nil {
		return t.clone(), err
	}

	changed := q.QuoteID != t.Quote.QuoteID
	t.Quote = q
	t.Reviewed = q.OutputAmount

	if c.wallet.Connected() {
		if err := c.fetchBalance(ctx, t); err != nil {
			return t.clone(), err
		}
		if changed {
			if err := c.fetchGas(ctx, t); err != nil {
				return t.clone(), err
			}
		}
	}
	if snap, ok := c.risks.Peek(t.Intent.Chain, t.Intent.ToToken); ok {
		t.Risk = &snap
	}

	c.evaluate(t)
	c.pending = append(c.pending, Event{TraceID: t.TraceID, From: t.Phase, To: t.Phase, At: c.now()})
	return t.clone(), nil
}

// Snapshot returns a copy of the current ticket
func (c *Controller) Snapshot() (Ticket, bool) {
	c.mu.Lock()
	defer c.unlock()
	if c.ticket == nil {
		return Ticket{}, false
	}
	return c.ticket.clone(), true
}

// Phase is the current phase, PhaseIdle when no ticket exists
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.unlock()
	if c.ticket == nil {
		return PhaseIdle
	}
	return c.ticket.Phase
}
