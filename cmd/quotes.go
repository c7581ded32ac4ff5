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

	"dex-console/pkg/client"
	"dex-console/pkg/confirm"
	"dex-console/pkg/intent"
	"dex-console/pkg/parser"
	"dex-console/pkg/quotes"
	"dex-console/pkg/types"
)

var (
	slippageFlag string
	gasFlag      string
	walletFlag   string
	watchQuotes  bool
)

var quotesCmd = &cobra.Command{
	Use:   "quotes <amount> <source-token> to <dest-token>",
	Short: "Compare DEX quotes for a swap",
	Long: `Fetch quotes from every DEX source the backend aggregates and show them
side by side. The best output is highlighted.

Examples:
  dex-console quotes 1 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
  dex-console quotes 100 USDC to SOL --chain solana --slippage 1
  dex-console quotes 1 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuotes,
}

func init() {
	rootCmd.AddCommand(quotesCmd)

	quotesCmd.Flags().StringVar(&slippageFlag, "slippage", "0.5", "Slippage tolerance in percent")
	quotesCmd.Flags().StringVar(&gasFlag, "gas", "auto", "Gas preference: auto, fast, standard or slow")
	quotesCmd.Flags().StringVar(&walletFlag, "wallet", "", "Wallet address to quote for (optional)")
	quotesCmd.Flags().BoolVarP(&watchQuotes, "watch", "w", false, "Keep streaming quote updates")
}

// draftFromArgs parses "<amount> <from> to <to>" into an intent draft
func draftFromArgs(args []string, slippage, gas string) (intent.Draft, error) {
	command, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return intent.Draft{}, err
	}
	if err := parser.ValidateSwapCommand(command); err != nil {
		return intent.Draft{}, err
	}
	return command.Draft(appConfig.Chain, slippage, gas), nil
}

func runQuotes(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	draft, err := draftFromArgs(args, slippageFlag, gasFlag)
	if err != nil {
		return err
	}
	store := intent.NewStore(draft)
	tradeIntent, err := store.Intent()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := newGateway()
	set := quotes.NewSet()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quotes..."
		s.Start()
	}
	qs, err := gw.AggregateQuotes(ctx, tradeIntent, walletFlag)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return explainQuoteError(err)
	}
	set.Replace(qs, store.Fingerprint())
	showQuotes(set, tradeIntent, jsonOutput)

	if !watchQuotes {
		return nil
	}

	updates, err := gw.SubscribeQuotes(ctx, tradeIntent, walletFlag)
	if err != nil {
		return err
	}
	if !jsonOutput {
		color.HiBlack("Watching for updates, Ctrl+C to stop")
	}
	for u := range updates {
		if u.Err != nil {
			if errors.Is(u.Err, client.ErrNoTradableQuotes) {
				color.Yellow("No tradable quotes in the latest update")
				continue
			}
			return u.Err
		}
		set.Replace(u.Quotes, store.Fingerprint())
		showQuotes(set, tradeIntent, jsonOutput)
	}
	return nil
}

func showQuotes(set *quotes.Set, tradeIntent types.TradeIntent, jsonOutput bool) {
	if jsonOutput {
		selected, _ := set.Selected()
		output := map[string]interface{}{
			"quotes":     set.Quotes(),
			"best":       selected.QuoteID,
			"fetched_at": set.FetchedAt(),
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayQuotes(set, tradeIntent)
}

func explainQuoteError(err error) error {
	if errors.Is(err, client.ErrNoTradableQuotes) {
		return fmt.Errorf("%s; try another amount or token", confirm.KindNoQuotesAvailable.Message())
	}
	if client.IsTransport(err) {
		return fmt.Errorf("the trading backend at %s is unreachable: %w", appConfig.BaseURL, err)
	}
	return err
}
