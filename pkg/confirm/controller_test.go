package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"dex-console/pkg/client"
	"dex-console/pkg/intent"
	"dex-console/pkg/money"
	"dex-console/pkg/quotes"
	"dex-console/pkg/risk"
	"dex-console/pkg/safety"
	"dex-console/pkg/types"
	"dex-console/pkg/wallet"
	"dex-console/pkg/wallet/mocks"
)

const (
	tokenA  = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	account = "0x1111111111111111111111111111111111111111"
)

type gatewayCall struct {
	op      string
	traceID types.TraceID
}

// fakeGateway records every request and tracks how many are outstanding
type fakeGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	active    int
	maxActive int
	built     []client.TradeParams

	quotes  map[string]types.Quote
	risk    types.RiskSnapshot
	refresh func(ctx context.Context, quoteID string) (types.Quote, error)
	gas     func(ctx context.Context) (types.GasEstimate, error)
	build   func(ctx context.Context) (types.BuildResult, error)
	execute func(ctx context.Context, signed string) (types.ExecutionReceipt, error)
}

func newFakeGateway(qs []types.Quote, snap types.RiskSnapshot) *fakeGateway {
	f := &fakeGateway{quotes: map[string]types.Quote{}, risk: snap}
	for _, q := range qs {
		f.quotes[q.QuoteID] = q
	}
	return f
}

func (f *fakeGateway) enter(op string, traceID types.TraceID) func() {
	f.mu.Lock()
	f.calls = append(f.calls, gatewayCall{op: op, traceID: traceID})
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeGateway) traceIDs() []types.TraceID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []types.TraceID
	for _, c := range f.calls {
		if c.op != "risk" {
			ids = append(ids, c.traceID)
		}
	}
	return ids
}

func (f *fakeGateway) AssessRisk(_ context.Context, _, _ string) (types.RiskSnapshot, error) {
	defer f.enter("risk", "")()
	return f.risk, nil
}

func (f *fakeGateway) RefreshQuote(ctx context.Context, quoteID string, traceID types.TraceID) (types.Quote, error) {
	defer f.enter("refresh", traceID)()
	if f.refresh != nil {
		return f.refresh(ctx, quoteID)
	}
	return f.quotes[quoteID], nil
}

func (f *fakeGateway) EstimateGas(ctx context.Context, _ client.TradeParams, traceID types.TraceID) (types.GasEstimate, error) {
	defer f.enter("gas", traceID)()
	if f.gas != nil {
		return f.gas(ctx)
	}
	return types.GasEstimate{GasPriceGwei: 21, GasUSD: 4.2}, nil
}

func (f *fakeGateway) BuildTransaction(ctx context.Context, p client.TradeParams, traceID types.TraceID) (types.BuildResult, error) {
	defer f.enter("build", traceID)()
	f.mu.Lock()
	f.built = append(f.built, p)
	f.mu.Unlock()
	if f.build != nil {
		return f.build(ctx)
	}
	return types.BuildResult{TradeID: "trade-1", Transaction: json.RawMessage(`{"to":"0x2222222222222222222222222222222222222222"}`)}, nil
}

func (f *fakeGateway) ExecuteTransaction(ctx context.Context, signed, tradeID string, traceID types.TraceID) (types.ExecutionReceipt, error) {
	defer f.enter("execute", traceID)()
	if f.execute != nil {
		return f.execute(ctx, signed)
	}
	return types.ExecutionReceipt{TradeID: tradeID, TxHash: "0xfeed", Status: "submitted"}, nil
}

type recorder struct {
	mu     sync.Mutex
	phases []string
}

func (r *recorder) RecordTransition(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
}

type harness struct {
	ctrl    *Controller
	gw      *fakeGateway
	wallet  *mocks.MockWallet
	store   *intent.Store
	set     *quotes.Set
	logs    *observer.ObservedLogs
	metrics *recorder

	mu     sync.Mutex
	events []Event
}

func (h *harness) phases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Phase
	for _, e := range h.events {
		if e.From != e.To {
			out = append(out, e.To)
		}
	}
	return out
}

func quote(id, dex, out string, gasUSD float64) types.Quote {
	impact := 0.3
	gas := gasUSD
	return types.Quote{
		QuoteID:            id,
		Dex:                dex,
		OutputAmount:       money.MustParse(out),
		PriceImpactPercent: &impact,
		GasCostUSD:         &gas,
		Route:              []string{"ETH", tokenA},
		Version:            "v3",
	}
}

func threeQuotes() []types.Quote {
	return []types.Quote{
		quote("q-uni", "uniswap", "0.062", 4),
		quote("q-sushi", "sushiswap", "0.063", 5),
		quote("q-curve", "curve", "0.061", 3),
	}
}

func baseDraft() intent.Draft {
	return intent.Draft{Chain: "ethereum", FromToken: "ETH", ToToken: tokenA, FromAmount: "1.0", Slippage: "0.5"}
}

var safeRisk = types.RiskSnapshot{Score: 82, Category: types.RiskLow, Tradeable: true}

func newHarness(t *testing.T, draft intent.Draft, qs []types.Quote, snap types.RiskSnapshot) *harness {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		gw:      newFakeGateway(qs, snap),
		wallet:  mocks.NewMockWallet(gomock.NewController(t)),
		store:   intent.NewStore(draft),
		set:     quotes.NewSet(),
		logs:    logs,
		metrics: &recorder{},
	}
	h.store.OnInvalidate(h.set.OnIntentChange)
	h.set.Replace(qs, h.store.Fingerprint())

	h.ctrl = NewController(h.gw, h.wallet, h.store, h.set, risk.NewCache(h.gw),
		WithLogger(zap.New(core)),
		WithTransitionRecorder(h.metrics),
		WithListener(func(e Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, e)
		}))
	return h
}

func (h *harness) connect(balance string) {
	h.wallet.EXPECT().Connected().Return(true).AnyTimes()
	h.wallet.EXPECT().Address().Return(account).AnyTimes()
	h.wallet.EXPECT().ChainID().Return("1").AnyTimes()
	h.wallet.EXPECT().NativeBalance(gomock.Any()).Return(money.MustParse(balance), nil).AnyTimes()
}

func (h *harness) expectSign(times int) {
	h.wallet.EXPECT().SignTransaction(gomock.Any(), gomock.Any()).Return("0xsigned", nil).Times(times)
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	h.expectSign(1)
	ctx := context.Background()

	ticket, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingConfirmations, ticket.Phase)
	assert.Equal(t, "q-sushi", ticket.Quote.QuoteID)
	assert.Equal(t, safety.Acknowledgments{}, ticket.Acks)
	require.NotNil(t, ticket.Gas)
	require.NotNil(t, ticket.Balance)

	balanceCheck, ok := safety.Find(ticket.Checks, safety.KeySufficientBalance)
	require.True(t, ok)
	assert.True(t, balanceCheck.Passed)

	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))
	assert.True(t, h.ctrl.GateOpen())

	receipt, err := h.ctrl.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trade-1", receipt.TradeID)
	assert.Equal(t, "0xfeed", receipt.TxHash)
	assert.Equal(t, PhaseCompleted, h.ctrl.Phase())

	selected, ok := h.set.Selected()
	require.True(t, ok)
	assert.Equal(t, "0.063", selected.OutputAmount.String())

	assert.Equal(t, 1, h.gw.count("refresh"))
	assert.Equal(t, 1, h.gw.count("build"))
	assert.Equal(t, 1, h.gw.count("execute"))
	assert.Equal(t, 1, h.gw.maxActive)

	for _, id := range h.gw.traceIDs() {
		assert.Equal(t, ticket.TraceID, id)
	}

	assert.Equal(t, []Phase{
		PhaseReview, PhaseSafetyCheck, PhaseAwaitingConfirmations, PhaseRefreshing,
		PhaseBuilding, PhaseSigning, PhaseExecuting, PhaseCompleted,
	}, h.phases())
	assert.Len(t, h.metrics.phases, 8)

	transitions := h.logs.FilterMessage("Phase transition").FilterField(zap.String("trace_id", string(ticket.TraceID)))
	assert.Equal(t, 8, transitions.Len())
}

func TestHighRiskNeedsEveryAcknowledgment(t *testing.T) {
	draft := baseDraft()
	draft.Slippage = "6"
	h := newHarness(t, draft, threeQuotes(), types.RiskSnapshot{Score: 40, Category: types.RiskHigh, Tradeable: true})
	h.connect("2.0")
	h.expectSign(1)
	ctx := context.Background()

	ticket, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	assert.True(t, ticket.Requirements.SlippageAccepted)
	assert.True(t, ticket.Requirements.HighRisk)

	steps := []safety.Acknowledgments{
		{},
		{AmountVerified: true},
		{AmountVerified: true, SlippageAccepted: true},
		{AmountVerified: true, SlippageAccepted: true, RiskAccepted: true},
	}
	for _, acks := range steps {
		require.NoError(t, h.ctrl.Acknowledge(acks))
		_, err := h.ctrl.Confirm(ctx)
		assert.ErrorIs(t, err, ErrGateClosed)
		assert.Equal(t, PhaseAwaitingConfirmations, h.ctrl.Phase())
	}

	matched, err := h.ctrl.TypePhrase("i understand the risks")
	require.NoError(t, err)
	assert.False(t, matched)
	_, err = h.ctrl.Confirm(ctx)
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Zero(t, h.gw.count("refresh"))

	matched, err = h.ctrl.TypePhrase(safety.RiskPhrase)
	require.NoError(t, err)
	assert.True(t, matched)

	_, err = h.ctrl.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, h.ctrl.Phase())
}

func TestUntradeableTokenNeverConfirms(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), types.RiskSnapshot{Score: 88, Category: types.RiskLow, Tradeable: false})
	h.connect("2.0")
	ctx := context.Background()

	ticket, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingConfirmations, ticket.Phase)
	assert.True(t, ticket.Requirements.Blocked)
	assert.Contains(t, ticket.Notices, Notice{Kind: KindUntradeableToken, Severity: safety.SeverityError, Message: KindUntradeableToken.Message()})

	riskCheck, ok := safety.Find(ticket.Checks, safety.KeyRiskAcceptable)
	require.True(t, ok)
	assert.False(t, riskCheck.Passed)

	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true, SlippageAccepted: true, RiskAccepted: true}))
	_, err = h.ctrl.TypePhrase(safety.RiskPhrase)
	require.NoError(t, err)

	assert.False(t, h.ctrl.GateOpen())
	_, err = h.ctrl.Confirm(ctx)
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Zero(t, h.gw.count("refresh"))
}

func TestIntentEditInvalidatesConfirmation(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	ctx := context.Background()

	_, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Close())
	assert.Equal(t, PhaseIdle, h.ctrl.Phase())

	h.store.SetFromAmount("1.5")

	_, ok := h.set.Selected()
	assert.False(t, ok)
	_, err = h.ctrl.Open(ctx)
	assert.ErrorIs(t, err, ErrStaleQuotes)
	assert.Equal(t, PhaseIdle, h.ctrl.Phase())

	h.set.Replace(threeQuotes(), h.store.Fingerprint())
	ticket, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingConfirmations, ticket.Phase)
	assert.Equal(t, "1.5", ticket.Intent.FromAmount.String())
}

func TestIntentEditWhileAwaitingBlocksConfirm(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	ctx := context.Background()

	_, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	h.store.SetToToken("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")

	_, err = h.ctrl.Confirm(ctx)
	assert.ErrorIs(t, err, ErrStaleQuotes)
	assert.Zero(t, h.gw.count("refresh"))

	_, err = h.ctrl.Reevaluate(ctx)
	assert.ErrorIs(t, err, ErrStaleQuotes)
}

func TestWalletRejectionCancels(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	h.wallet.EXPECT().SignTransaction(gomock.Any(), gomock.Any()).Return("", wallet.ErrUserRejected())
	ctx := context.Background()

	ticket, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	_, err = h.ctrl.Confirm(ctx)
	require.Error(t, err)
	assert.Equal(t, KindUserRejectedSigning, KindOf(err))
	assert.True(t, wallet.IsUserRejection(err))

	assert.Equal(t, PhaseCancelled, h.ctrl.Phase())
	assert.Zero(t, h.gw.count("execute"))

	logged := h.logs.FilterField(zap.String("error_kind", string(KindUserRejectedSigning))).
		FilterField(zap.String("trace_id", string(ticket.TraceID)))
	assert.Equal(t, 1, logged.Len())
}

func TestDivergentRefreshWarnsAndContinues(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	h.expectSign(1)
	h.gw.refresh = func(_ context.Context, id string) (types.Quote, error) {
		q := h.gw.quotes[id]
		q.QuoteID = id + "-r"
		q.OutputAmount = money.MustParse("0.05544") // 12% below 0.063
		return q, nil
	}
	ctx := context.Background()

	_, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	_, err = h.ctrl.Confirm(ctx)
	require.NoError(t, err)

	ticket, ok := h.ctrl.Snapshot()
	require.True(t, ok)
	assert.Equal(t, PhaseCompleted, ticket.Phase)
	require.NotNil(t, ticket.Delta)
	assert.True(t, ticket.Delta.Equal(money.MustParse("-12")))

	var stale bool
	for _, n := range ticket.Notices {
		stale = stale || n.Kind == KindQuoteStale
	}
	assert.True(t, stale)

	require.Len(t, h.gw.built, 1)
	assert.Equal(t, "q-sushi-r", h.gw.built[0].QuoteID)
	selected, _ := h.set.Selected()
	assert.Equal(t, "q-sushi-r", selected.QuoteID)
}

func TestRefreshFailures(t *testing.T) {
	t.Run("transport failure reuses the reviewed quote", func(t *testing.T) {
		h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
		h.connect("2.0")
		h.expectSign(1)
		h.gw.refresh = func(context.Context, string) (types.Quote, error) {
			return types.Quote{}, &client.Error{Kind: client.KindTransport, Op: client.PathRefresh, Err: errors.New("connection refused")}
		}

		_, err := h.ctrl.Open(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

		_, err = h.ctrl.Confirm(context.Background())
		require.NoError(t, err)
		assert.Equal(t, PhaseCompleted, h.ctrl.Phase())
		assert.Equal(t, "q-sushi", h.gw.built[0].QuoteID)

		ticket, _ := h.ctrl.Snapshot()
		assert.Equal(t, KindNetworkUnavailable, ticket.Notices[len(ticket.Notices)-1].Kind)
	})

	t.Run("persistent server error fails the ticket", func(t *testing.T) {
		h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
		h.connect("2.0")
		h.gw.refresh = func(context.Context, string) (types.Quote, error) {
			return types.Quote{}, &client.Error{Kind: client.KindProtocol, Op: client.PathRefresh, StatusCode: 503}
		}

		_, err := h.ctrl.Open(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

		_, err = h.ctrl.Confirm(context.Background())
		assert.Equal(t, KindQuoteRefreshFailed, KindOf(err))
		assert.Equal(t, PhaseFailed, h.ctrl.Phase())
		assert.Zero(t, h.gw.count("build"))
	})
}

func TestBuildNetworkFailureCanBeRetried(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	h.expectSign(1)
	attempts := 0
	h.gw.build = func(context.Context) (types.BuildResult, error) {
		attempts++
		if attempts == 1 {
			return types.BuildResult{}, &client.Error{Kind: client.KindTransport, Op: client.PathBuild, Err: errors.New("timeout")}
		}
		return types.BuildResult{TradeID: "trade-2", Transaction: json.RawMessage(`{}`)}, nil
	}
	ctx := context.Background()

	ticket, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	_, err = h.ctrl.Confirm(ctx)
	assert.Equal(t, KindNetworkUnavailable, KindOf(err))
	assert.Equal(t, PhaseBuilding, h.ctrl.Phase())

	_, err = h.ctrl.Confirm(ctx)
	assert.ErrorIs(t, err, ErrNotAwaiting)

	receipt, err := h.ctrl.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trade-2", receipt.TradeID)
	assert.Equal(t, PhaseCompleted, h.ctrl.Phase())
	assert.Equal(t, 2, h.gw.count("build"))
	assert.Equal(t, 1, h.gw.count("refresh"))

	for _, id := range h.gw.traceIDs() {
		assert.Equal(t, ticket.TraceID, id)
	}

	_, err = h.ctrl.Retry(ctx)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestTerminalFailures(t *testing.T) {
	t.Run("build rejected", func(t *testing.T) {
		h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
		h.connect("2.0")
		h.gw.build = func(context.Context) (types.BuildResult, error) {
			return types.BuildResult{}, &client.Error{Kind: client.KindDomain, Op: client.PathBuild, StatusCode: 400, Detail: "quote expired"}
		}

		_, err := h.ctrl.Open(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))
		_, err = h.ctrl.Confirm(context.Background())

		assert.Equal(t, KindBuildFailed, KindOf(err))
		assert.Equal(t, PhaseFailed, h.ctrl.Phase())
		_, err = h.ctrl.Retry(context.Background())
		assert.ErrorIs(t, err, ErrNotOpen)
	})

	t.Run("wallet error", func(t *testing.T) {
		h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
		h.connect("2.0")
		h.wallet.EXPECT().SignTransaction(gomock.Any(), gomock.Any()).Return("", wallet.NewError(-32603, "internal error"))

		_, err := h.ctrl.Open(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))
		_, err = h.ctrl.Confirm(context.Background())

		assert.Equal(t, KindSigningFailed, KindOf(err))
		assert.Equal(t, PhaseFailed, h.ctrl.Phase())
		assert.Zero(t, h.gw.count("execute"))
	})

	t.Run("execution rejected", func(t *testing.T) {
		h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
		h.connect("2.0")
		h.expectSign(1)
		h.gw.execute = func(context.Context, string) (types.ExecutionReceipt, error) {
			return types.ExecutionReceipt{}, &client.Error{Kind: client.KindDomain, Op: client.PathExecute, StatusCode: 422, Detail: "nonce too low"}
		}

		_, err := h.ctrl.Open(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))
		_, err = h.ctrl.Confirm(context.Background())

		assert.Equal(t, KindExecutionFailed, KindOf(err))
		assert.Equal(t, PhaseFailed, h.ctrl.Phase())
		assert.Equal(t, 1, h.gw.count("execute"))
	})
}

func TestInsufficientBalanceBlocksConfirm(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("0.5")

	_, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	_, err = h.ctrl.Confirm(context.Background())
	assert.Equal(t, KindInsufficientBalance, KindOf(err))
	assert.Equal(t, PhaseAwaitingConfirmations, h.ctrl.Phase())
	assert.Zero(t, h.gw.count("refresh"))
}

func TestCancelDuringRefreshAbortsRequest(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	started := make(chan struct{})
	var refreshErr error
	h.gw.refresh = func(ctx context.Context, _ string) (types.Quote, error) {
		close(started)
		<-ctx.Done()
		refreshErr = ctx.Err()
		return types.Quote{}, &client.Error{Kind: client.KindTransport, Err: ctx.Err()}
	}

	_, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Confirm(context.Background())
		done <- err
	}()

	<-started
	assert.False(t, h.ctrl.GateOpen())
	_, err = h.ctrl.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, h.ctrl.Cancel())
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.ErrorIs(t, refreshErr, context.Canceled)

	assert.Equal(t, PhaseCancelled, h.ctrl.Phase())
	assert.Zero(t, h.gw.count("build"))
	assert.Equal(t, 1, h.gw.maxActive)
}

func TestCancelDuringSigningWaitsForWallet(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	signing := make(chan struct{})
	release := make(chan struct{})
	h.wallet.EXPECT().SignTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ json.RawMessage) (string, error) {
			close(signing)
			<-release
			return "0xsigned", ctx.Err()
		})

	_, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Confirm(context.Background())
		done <- err
	}()

	<-signing
	require.NoError(t, h.ctrl.Cancel())
	ticket, _ := h.ctrl.Snapshot()
	assert.Equal(t, PhaseSigning, ticket.Phase)
	assert.True(t, ticket.CancelRequested())
	assert.ErrorIs(t, h.ctrl.Close(), ErrBusy)

	close(release)
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Equal(t, PhaseCancelled, h.ctrl.Phase())
	assert.Zero(t, h.gw.count("execute"))
}

func TestCancelAfterSigningIsRefused(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	h.expectSign(1)
	executing := make(chan struct{})
	release := make(chan struct{})
	h.gw.execute = func(context.Context, string) (types.ExecutionReceipt, error) {
		close(executing)
		<-release
		return types.ExecutionReceipt{TradeID: "trade-1", Status: "submitted"}, nil
	}

	_, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Confirm(context.Background())
		done <- err
	}()

	<-executing
	assert.ErrorIs(t, h.ctrl.Cancel(), ErrCannotCancel)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseCompleted, h.ctrl.Phase())
}

func TestReopenMintsNewTraceID(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	ctx := context.Background()

	first, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.Open(ctx)
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	require.NoError(t, h.ctrl.Close())
	second, err := h.ctrl.Open(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.TraceID, second.TraceID)
	assert.LessOrEqual(t, len(second.TraceID), 64)
	assert.Regexp(t, `^trade_\d+_[0-9a-z]{11}$`, string(second.TraceID))
}

func TestNativeDestinationSkipsRiskRequest(t *testing.T) {
	draft := baseDraft()
	draft.FromToken = tokenA
	draft.ToToken = "ETH"
	h := newHarness(t, draft, threeQuotes(), safeRisk)
	h.connect("2.0")

	ticket, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)

	assert.Zero(t, h.gw.count("risk"))
	require.NotNil(t, ticket.Risk)
	assert.Equal(t, types.NativeRiskSnapshot(), *ticket.Risk)
	// token balances need a TokenBalancer
	assert.Nil(t, ticket.Balance)
}

func TestGatheringFailuresBecomeNotices(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.wallet.EXPECT().Connected().Return(true).AnyTimes()
	h.wallet.EXPECT().Address().Return(account).AnyTimes()
	h.wallet.EXPECT().ChainID().Return("1").AnyTimes()
	h.wallet.EXPECT().NativeBalance(gomock.Any()).Return(money.Amount{}, errors.New("rpc down"))
	h.gw.gas = func(context.Context) (types.GasEstimate, error) {
		return types.GasEstimate{}, &client.Error{Kind: client.KindProtocol, StatusCode: 500}
	}

	ticket, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingConfirmations, ticket.Phase)
	assert.Nil(t, ticket.Balance)
	assert.Nil(t, ticket.Gas)

	var messages []string
	for _, n := range ticket.Notices {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages, "Balance unavailable")
	assert.Contains(t, messages, "Gas estimate unavailable")

	_, ok := safety.Find(ticket.Checks, safety.KeySufficientBalance)
	assert.False(t, ok)
}

func TestDisconnectedWalletStillReviews(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.wallet.EXPECT().Connected().Return(false).AnyTimes()

	ticket, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingConfirmations, ticket.Phase)
	assert.Zero(t, h.gw.count("gas"))

	require.NoError(t, h.ctrl.Acknowledge(safety.Acknowledgments{AmountVerified: true}))
	_, err = h.ctrl.Confirm(context.Background())
	assert.ErrorIs(t, err, wallet.ErrNotConnected)
	assert.Equal(t, PhaseAwaitingConfirmations, h.ctrl.Phase())
}

func TestWalletSwitchesChain(t *testing.T) {
	draft := baseDraft()
	draft.Chain = "polygon"
	draft.FromToken = "MATIC"
	h := newHarness(t, draft, threeQuotes(), safeRisk)

	chainID := "1"
	h.wallet.EXPECT().Connected().Return(true).AnyTimes()
	h.wallet.EXPECT().Address().Return(account).AnyTimes()
	h.wallet.EXPECT().ChainID().DoAndReturn(func() string { return chainID }).AnyTimes()
	h.wallet.EXPECT().SwitchChain(gomock.Any(), "137").DoAndReturn(func(context.Context, string) error {
		chainID = "137"
		return nil
	})
	h.wallet.EXPECT().NativeBalance(gomock.Any()).Return(money.MustParse("10"), nil)

	ticket, err := h.ctrl.Open(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ticket.Balance)
	assert.Equal(t, "10", ticket.Balance.String())
}

func TestReevaluateAfterSelectionChange(t *testing.T) {
	h := newHarness(t, baseDraft(), threeQuotes(), safeRisk)
	h.connect("2.0")
	ctx := context.Background()

	_, err := h.ctrl.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.count("gas"))

	// same selection: no new estimate
	_, err = h.ctrl.Reevaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.count("gas"))

	require.NoError(t, h.set.Select("q-uni"))
	ticket, err := h.ctrl.Reevaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q-uni", ticket.Quote.QuoteID)
	assert.Equal(t, "0.062", ticket.Reviewed.String())
	assert.Equal(t, 2, h.gw.count("gas"))
	assert.Equal(t, PhaseAwaitingConfirmations, ticket.Phase)
}

func TestPhaseOrdering(t *testing.T) {
	mainPath := []Phase{
		PhaseIdle, PhaseReview, PhaseSafetyCheck, PhaseAwaitingConfirmations, PhaseRefreshing,
		PhaseBuilding, PhaseSigning, PhaseExecuting, PhaseCompleted,
	}
	for i, from := range mainPath {
		for j, to := range mainPath {
			assert.Equal(t, j > i && !from.Terminal(), from.CanAdvanceTo(to), "%s -> %s", from, to)
		}
		if from != PhaseIdle && !from.Terminal() {
			assert.True(t, from.CanAdvanceTo(PhaseCancelled))
			assert.True(t, from.CanAdvanceTo(PhaseFailed))
		}
	}
	assert.False(t, PhaseIdle.CanAdvanceTo(PhaseCancelled))
	assert.False(t, PhaseCancelled.CanAdvanceTo(PhaseReview))
	assert.False(t, PhaseFailed.CanAdvanceTo(PhaseCancelled))
}
