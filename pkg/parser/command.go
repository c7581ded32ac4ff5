package parser

import (
	"fmt"
	"regexp"
	"strings"

	"dex-console/pkg/intent"
)

// SwapCommand is a parsed "<amount> <token> to <token>" phrase
type SwapCommand struct {
	Amount    string
	FromToken string
	ToToken   string
}

// Pattern: [swap] <amount> <source_token> to <dest_token>
// Matches: "1 ETH to 0xA0b8...", "swap 0.5 eth TO usdc", "100 USDC to SOL"
var swapPattern = regexp.MustCompile(`(?i)^(?:swap\s+)?(\d+(?:\.\d*)?|\.\d+)\s+(\S+)\s+to\s+(\S+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 ETH to 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
//   - "1.5 ETH to USDC"
//   - "100 USDC to SOL"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.Join(strings.Fields(command), " ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 1 ETH to 0xA0b8...')")
	}

	return &SwapCommand{
		Amount:    matches[1],
		FromToken: NormalizeToken(matches[2]),
		ToToken:   NormalizeToken(matches[3]),
	}, nil
}

// ValidateSwapCommand validates that a swap command has all required fields
func ValidateSwapCommand(c *SwapCommand) error {
	if c.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if c.FromToken == "" {
		return fmt.Errorf("source token is required")
	}
	if c.ToToken == "" {
		return fmt.Errorf("destination token is required")
	}
	return nil
}

// NormalizeToken upper-cases symbols. Addresses are case sensitive (EIP-55
// checksums, base58) and are returned untouched.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if looksLikeAddress(token) {
		return token
	}
	return strings.ToUpper(token)
}

func looksLikeAddress(token string) bool {
	if strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X") {
		return true
	}
	// Solana public keys are 32-44 base58 characters; no symbol is that long
	return len(token) >= 32
}

// Draft turns the command into an intent draft for chain
func (c *SwapCommand) Draft(chainName, slippage, gas string) intent.Draft {
	return intent.Draft{
		Chain:         chainName,
		FromToken:     c.FromToken,
		ToToken:       c.ToToken,
		FromAmount:    c.Amount,
		Slippage:      slippage,
		GasPreference: gas,
	}
}
