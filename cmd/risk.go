package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dex-console/pkg/chain"
	"dex-console/pkg/parser"
	"dex-console/pkg/risk"
)

var riskCmd = &cobra.Command{
	Use:   "risk <token>",
	Short: "Show the risk assessment of a token",
	Long: `Ask the trading backend for the risk assessment of a token on the
active chain. Native assets are always reported as low risk without a request.

Examples:
  dex-console risk 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
  dex-console risk EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v --chain solana`,
	Args: cobra.ExactArgs(1),
	RunE: runRisk,
}

func init() {
	rootCmd.AddCommand(riskCmd)
}

func runRisk(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	c, err := chain.ByName(appConfig.Chain)
	if err != nil {
		return err
	}
	token := parser.NormalizeToken(args[0])
	if !c.IsValidToken(token) {
		return fmt.Errorf("%q is not a valid %s token address", token, c.Name)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Assessing token risk..."
		s.Start()
	}
	snap, err := risk.NewCache(newGateway()).Get(context.Background(), c.Name, token)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	fmt.Printf("\n  %s on %s\n\n", color.YellowString(token), c.Name)
	fmt.Printf("  %s\n", riskBadge(snap))
	if snap.Synthetic {
		fmt.Printf("  %s\n", color.HiBlackString("native asset, not assessed"))
	}
	for _, concern := range snap.PrimaryConcerns {
		fmt.Printf("  - %s\n", concern)
	}
	fmt.Println()
	return nil
}
