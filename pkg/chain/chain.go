package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Family groups chains that share an address format and signing scheme
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

const (
	// NativePlaceholder is the pseudo-address aggregators use for the native asset on EVM chains
	NativePlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	// WrappedSOLMint is the SPL mint aggregators use for SOL
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
)

// Chain describes one supported network
type Chain struct {
	Name         string // canonical symbolic name, e.g. "ethereum"
	ID           string // backend identifier, e.g. "1" or "solana"
	NativeSymbol string
	Family       Family
}

var registry = []Chain{
	{Name: "ethereum", ID: "1", NativeSymbol: "ETH", Family: FamilyEVM},
	{Name: "bsc", ID: "56", NativeSymbol: "BNB", Family: FamilyEVM},
	{Name: "polygon", ID: "137", NativeSymbol: "MATIC", Family: FamilyEVM},
	{Name: "base", ID: "8453", NativeSymbol: "ETH", Family: FamilyEVM},
	{Name: "arbitrum", ID: "42161", NativeSymbol: "ETH", Family: FamilyEVM},
	{Name: "solana", ID: "solana", NativeSymbol: "SOL", Family: FamilySolana},
}

var aliases = map[string]string{
	"eth":     "ethereum",
	"mainnet": "ethereum",
	"bnb":     "bsc",
	"matic":   "polygon",
	"pol":     "polygon",
	"arb":     "arbitrum",
	"sol":     "solana",
}

// ByName resolves a symbolic chain name (or a common alias) to a Chain
func ByName(name string) (Chain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	for _, c := range registry {
		if c.Name == name {
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("unsupported chain '%s'", name)
}

// ByID resolves a backend chain identifier to a Chain
func ByID(id string) (Chain, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, c := range registry {
		if c.ID == id {
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("unsupported chain id '%s'", id)
}

// IDOf maps a symbolic name to its identifier
func IDOf(name string) (string, error) {
	c, err := ByName(name)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// NameOf maps an identifier back to its symbolic name
func NameOf(id string) (string, error) {
	c, err := ByID(id)
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

// All returns the supported chains sorted by name
func All() []Chain {
	out := make([]Chain, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsNative reports whether token denotes the chain's native asset
func (c Chain) IsNative(token string) bool {
	token = strings.TrimSpace(token)
	if strings.EqualFold(token, c.NativeSymbol) {
		return true
	}
	if c.Family == FamilyEVM {
		return strings.EqualFold(token, NativePlaceholder) ||
			strings.EqualFold(token, common.Address{}.Hex())
	}
	return token == solana.SystemProgramID.String() || token == WrappedSOLMint
}

// IsValidAddress checks the syntax of a token or account address on this chain
func (c Chain) IsValidAddress(addr string) bool {
	switch c.Family {
	case FamilyEVM:
		// common.IsHexAddress also accepts unprefixed hex; the console does not
		return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
	case FamilySolana:
		_, err := solana.PublicKeyFromBase58(addr)
		return err == nil
	default:
		return false
	}
}

// IsValidToken accepts either a valid address or the native symbol
func (c Chain) IsValidToken(token string) bool {
	return c.IsNative(token) || c.IsValidAddress(token)
}

// NormalizeAddress returns the checksummed form for EVM addresses and the input otherwise
func (c Chain) NormalizeAddress(addr string) string {
	if c.Family == FamilyEVM && common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
