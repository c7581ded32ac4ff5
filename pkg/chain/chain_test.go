package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainMappingBothDirections(t *testing.T) {
	pairs := map[string]string{
		"ethereum": "1",
		"bsc":      "56",
		"polygon":  "137",
		"base":     "8453",
		"arbitrum": "42161",
		"solana":   "solana",
	}

	for name, id := range pairs {
		gotID, err := IDOf(name)
		require.NoError(t, err)
		assert.Equal(t, id, gotID)

		gotName, err := NameOf(id)
		require.NoError(t, err)
		assert.Equal(t, name, gotName)
	}
}

func TestByNameAliases(t *testing.T) {
	c, err := ByName("ETH")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", c.Name)

	_, err = ByName("dogechain")
	assert.Error(t, err)
}

func TestIsValidAddress(t *testing.T) {
	eth, _ := ByName("ethereum")
	sol, _ := ByName("solana")

	assert.True(t, eth.IsValidAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	assert.False(t, eth.IsValidAddress("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), "prefix is mandatory")
	assert.False(t, eth.IsValidAddress("0x1234"))
	assert.False(t, eth.IsValidAddress("0xZZZZAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))

	assert.True(t, sol.IsValidAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	assert.False(t, sol.IsValidAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
}

func TestIsNative(t *testing.T) {
	eth, _ := ByName("ethereum")
	bsc, _ := ByName("bsc")
	sol, _ := ByName("solana")

	assert.True(t, eth.IsNative("eth"))
	assert.True(t, eth.IsNative(NativePlaceholder))
	assert.True(t, bsc.IsNative("BNB"))
	assert.False(t, bsc.IsNative("ETH"))
	assert.True(t, sol.IsNative("SOL"))
	assert.True(t, sol.IsNative(WrappedSOLMint))
	assert.False(t, eth.IsNative("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
}
