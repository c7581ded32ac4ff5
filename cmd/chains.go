package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dex-console/pkg/chain"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List supported chains",
	Long: `List the chains the console can trade on, with the identifier the
backend uses for each and whether a signing wallet is configured.`,
	RunE: runChains,
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}

func runChains(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	chains := chain.All()

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(chains, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	banner("SUPPORTED CHAINS", 60)
	fmt.Printf("\n  %-10s %-8s %-7s %-7s %s\n", "NAME", "ID", "NATIVE", "FAMILY", "WALLET")
	fmt.Println("  " + strings.Repeat("-", 56))
	for _, c := range chains {
		configured := color.HiBlackString("-")
		if (c.Family == chain.FamilySolana && appConfig.Wallet.HasSolana()) || appConfig.Wallet.HasEVM(c.Name) {
			configured = color.GreenString("configured")
		}
		name := c.Name
		if c.Name == appConfig.Chain {
			name = color.CyanString("%-10s", c.Name)
		} else {
			name = fmt.Sprintf("%-10s", name)
		}
		fmt.Printf("  %s %-8s %-7s %-7s %s\n", name, c.ID, c.NativeSymbol, c.Family, configured)
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
	return nil
}
