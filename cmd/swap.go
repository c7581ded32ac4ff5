package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dex-console/config"
	"dex-console/pkg/chain"
	"dex-console/pkg/confirm"
	"dex-console/pkg/intent"
	"dex-console/pkg/logger"
	"dex-console/pkg/quotes"
	"dex-console/pkg/risk"
	"dex-console/pkg/safety"
	"dex-console/pkg/types"
	"dex-console/pkg/wallet"
)

var (
	swapSlippage string
	swapGas      string
	swapQuoteID  string
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Swap tokens through the best DEX quote",
	Long: `Fetch quotes, review the safety checklist, acknowledge the risks and
submit the swap. The transaction is built by the trading backend and signed by
the wallet configured for the chain.

IMPORTANT:
  - A signing key must be configured for the chain (see 'dex-console chains')
  - Slippage above 2% must be accepted explicitly
  - High-risk trades require typing the phrase "I UNDERSTAND THE RISKS"

Examples:
  dex-console swap 1 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
  dex-console swap 0.5 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 --chain base --gas fast
  dex-console swap 2 SOL to EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v --chain solana --slippage 1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&swapSlippage, "slippage", "0.5", "Slippage tolerance in percent (0-50)")
	swapCmd.Flags().StringVar(&swapGas, "gas", "auto", "Gas preference: auto, fast, standard or slow")
	swapCmd.Flags().StringVar(&swapQuoteID, "quote", "", "Use this quote id instead of the best one")
}

// closableWallet is a local signing wallet
type closableWallet interface {
	wallet.Wallet
	Close()
}

func openWallet(cfg config.WalletConfig, chainName string, approver wallet.Approver) (closableWallet, error) {
	c, err := chain.ByName(chainName)
	if err != nil {
		return nil, err
	}
	if c.Family == chain.FamilySolana {
		if !cfg.HasSolana() {
			return nil, fmt.Errorf("no Solana wallet configured (set wallet.solana.private_key or DEX_CONSOLE_WALLET_SOLANA_PRIVATE_KEY)")
		}
		return wallet.NewSolanaWallet(cfg.Solana, wallet.WithSolanaApprover(approver))
	}
	if !cfg.HasEVM(c.Name) {
		return nil, fmt.Errorf("no wallet configured for %s (set wallet.evm.%s.private_key and rpc_url)", c.Name, c.Name)
	}
	return wallet.NewEVMWallet(cfg.EVM, c.Name, wallet.WithEVMApprover(approver))
}

var phaseLabels = map[confirm.Phase]string{
	confirm.PhaseReview:      " Opening review...",
	confirm.PhaseSafetyCheck: " Running safety checks...",
	confirm.PhaseRefreshing:  " Refreshing quote...",
	confirm.PhaseBuilding:    " Building transaction...",
	confirm.PhaseSigning:     " Waiting for signature...",
	confirm.PhaseExecuting:   " Submitting trade...",
}

func runSwap(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	log := logger.Named("swap")

	draft, err := draftFromArgs(args, swapSlippage, swapGas)
	if err != nil {
		return err
	}
	store := intent.NewStore(draft)
	tradeIntent, err := store.Intent()
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	approver := wallet.ApproverFunc(func(ctx context.Context, req wallet.SignRequest) (bool, error) {
		s.Stop()
		defer s.Start()
		return approveSignature(req), nil
	})

	w, err := openWallet(appConfig.Wallet, tradeIntent.Chain, approver)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx := context.Background()
	gw := newGateway()
	set := quotes.NewSet()
	store.OnInvalidate(set.OnIntentChange)

	s.Suffix = " Fetching quotes..."
	s.Start()
	qs, err := gw.AggregateQuotes(ctx, tradeIntent, w.Address())
	s.Stop()
	if err != nil {
		return explainQuoteError(err)
	}
	set.Replace(qs, store.Fingerprint())
	if swapQuoteID != "" {
		if err := set.Select(swapQuoteID); err != nil {
			return err
		}
	}
	displayQuotes(set, tradeIntent)

	opts := []confirm.Option{
		confirm.WithLogger(logger.Named("confirm")),
		confirm.WithListener(func(e confirm.Event) {
			if label, ok := phaseLabels[e.To]; ok && e.From != e.To {
				s.Suffix = label
			}
		}),
	}
	if collector != nil {
		opts = append(opts, confirm.WithTransitionRecorder(collector))
	}
	ctrl := confirm.NewController(gw, w, store, set, risk.NewCache(gw), opts...)

	s.Suffix = phaseLabels[confirm.PhaseSafetyCheck]
	s.Start()
	ticket, err := ctrl.Open(ctx)
	s.Stop()
	if err != nil {
		return err
	}
	displayReview(ticket)

	if ticket.Requirements.Blocked {
		color.Red("\n%s. The swap cannot continue.\n", confirm.KindUntradeableToken.Message())
		_ = ctrl.Close()
		return nil
	}
	if !collectAcknowledgments(ctrl, ticket.Requirements) {
		_ = ctrl.Close()
		fmt.Println("\nSwap cancelled.")
		return nil
	}

	// Ctrl+C cancels whatever phase allows it
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if err := ctrl.Cancel(); err != nil {
				log.Warn("Cancel refused", zap.Error(err))
			}
		}
	}()

	s.Suffix = phaseLabels[confirm.PhaseRefreshing]
	s.Start()
	receipt, err := ctrl.Confirm(ctx)
	for confirm.KindOf(err) == confirm.KindNetworkUnavailable && ctrl.Phase() == confirm.PhaseBuilding {
		s.Stop()
		color.Yellow("\n%s.", confirm.KindNetworkUnavailable.Message())
		if !confirmYes("Retry building the transaction?") {
			_ = ctrl.Cancel()
			break
		}
		s.Start()
		receipt, err = ctrl.Retry(ctx)
	}
	s.Stop()

	final, _ := ctrl.Snapshot()
	if jsonOutput {
		return printOutcomeJSON(final, receipt)
	}
	return printOutcome(final, receipt, err)
}

func approveSignature(req wallet.SignRequest) bool {
	color.Yellow("\nWallet signature requested")
	fmt.Printf("  Chain:    %s\n", req.ChainID)
	fmt.Printf("  Account:  %s\n", req.Account)
	if req.To != "" {
		fmt.Printf("  To:       %s\n", req.To)
	}
	if req.Value != "" {
		fmt.Printf("  Value:    %s\n", req.Value)
	}
	return confirmYes("Sign this transaction?")
}

func collectAcknowledgments(ctrl *confirm.Controller, req safety.Requirements) bool {
	var acks safety.Acknowledgments

	acks.AmountVerified = confirmYes("\nI have verified the amounts and the destination token")
	if req.SlippageAccepted {
		acks.SlippageAccepted = confirmYes("I accept the high slippage tolerance")
	}
	if req.HighRisk {
		color.Red("\nThis trade is HIGH RISK.")
		acks.RiskAccepted = confirmYes("I accept the risk of losing funds on this trade")
	}
	if err := ctrl.Acknowledge(acks); err != nil {
		return false
	}

	if req.HighRisk && acks.RiskAccepted {
		typed := prompt(fmt.Sprintf("Type %q to continue: ", safety.RiskPhrase))
		if matched, err := ctrl.TypePhrase(typed); err != nil || !matched {
			color.Red("The phrase does not match.")
		}
	}

	if ctrl.GateOpen() {
		return true
	}
	t, _ := ctrl.Snapshot()
	color.Yellow("\nMissing: %s", strings.Join(t.Requirements.Missing(t.Acks, t.HighRiskPhraseMatched), ", "))
	return false
}

func printOutcome(t confirm.Ticket, receipt types.ExecutionReceipt, err error) error {
	displayNotices(t.Notices)
	if t.Delta != nil {
		fmt.Printf("\n  Refreshed output: %s (%s%% vs reviewed)\n", t.Quote.OutputAmount, t.Delta.StringFixed(2))
	}

	switch t.Phase {
	case confirm.PhaseCompleted:
		color.Green("\n✓ Swap submitted!")
		fmt.Printf("  Trade ID:  %s\n", color.CyanString(receipt.TradeID))
		if receipt.TxHash != "" {
			fmt.Printf("  Tx hash:   %s\n", color.CyanString(receipt.TxHash))
		}
		fmt.Printf("  Status:    %s\n", receipt.Status)
		printSuccess(color.HiBlackString("trace " + string(t.TraceID)))
		return nil
	case confirm.PhaseCancelled:
		if t.Err != nil && t.Err.Kind == confirm.KindUserRejectedSigning {
			fmt.Printf("\n%s. Nothing was submitted.\n\n", t.Err.Kind.Message())
			return nil
		}
		fmt.Println("\nSwap cancelled.")
		return nil
	}

	var fErr *confirm.FlowError
	if errors.As(err, &fErr) {
		if fErr.Err == nil {
			return fmt.Errorf("%s (trace %s)", fErr.Kind.Message(), fErr.TraceID.Short())
		}
		return fmt.Errorf("%s (trace %s): %w", fErr.Kind.Message(), fErr.TraceID.Short(), fErr.Err)
	}
	return err
}

func printOutcomeJSON(t confirm.Ticket, receipt types.ExecutionReceipt) error {
	output := map[string]interface{}{
		"trace_id": t.TraceID,
		"phase":    t.Phase,
		"quote_id": t.Quote.QuoteID,
		"notices":  t.Notices,
	}
	if t.Phase == confirm.PhaseCompleted {
		output["trade_id"] = receipt.TradeID
		output["tx_hash"] = receipt.TxHash
		output["status"] = receipt.Status
	}
	if t.Err != nil {
		output["error_kind"] = t.Err.Kind
		output["error"] = t.Err.Error()
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
	return nil
}
