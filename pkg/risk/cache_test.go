package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-console/pkg/types"
)

const usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

type stubAssessor struct {
	calls []string
	snap  types.RiskSnapshot
	err   error
}

func (s *stubAssessor) AssessRisk(_ context.Context, chainName, token string) (types.RiskSnapshot, error) {
	s.calls = append(s.calls, chainName+"|"+token)
	return s.snap, s.err
}

func TestNativeTokensNeverCallBackend(t *testing.T) {
	a := &stubAssessor{}
	c := NewCache(a)
	ctx := context.Background()

	for _, tc := range []struct{ chain, token string }{
		{"ethereum", "ETH"},
		{"ethereum", "eth"},
		{"ethereum", "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"},
		{"bsc", "BNB"},
		{"solana", "SOL"},
		{"solana", "So11111111111111111111111111111111111111112"},
	} {
		snap, err := c.Get(ctx, tc.chain, tc.token)
		require.NoError(t, err)
		assert.Equal(t, types.NativeRiskSnapshot(), snap, tc.token)

		snap, err = c.Refresh(ctx, tc.chain, tc.token)
		require.NoError(t, err)
		assert.Equal(t, 95, snap.Score)
	}

	assert.Empty(t, a.calls)
	assert.Zero(t, c.Len())
}

func TestGetCachesByKey(t *testing.T) {
	a := &stubAssessor{snap: types.RiskSnapshot{Score: 72, Category: types.RiskMedium, Tradeable: true}}
	c := NewCache(a)
	ctx := context.Background()

	snap, err := c.Get(ctx, "ethereum", usdc)
	require.NoError(t, err)
	assert.Equal(t, 72, snap.Score)

	// same key in another spelling
	_, err = c.Get(ctx, "eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)
	assert.Len(t, a.calls, 1)

	// another chain is another key
	_, err = c.Get(ctx, "polygon", usdc)
	require.NoError(t, err)
	assert.Len(t, a.calls, 2)
	assert.Equal(t, 2, c.Len())
}

func TestRefreshKeepsPreviousOnFailure(t *testing.T) {
	a := &stubAssessor{snap: types.RiskSnapshot{Score: 40, Category: types.RiskHigh, Tradeable: true}}
	c := NewCache(a)
	ctx := context.Background()

	_, err := c.Get(ctx, "ethereum", usdc)
	require.NoError(t, err)

	a.err = errors.New("risk service down")
	_, err = c.Refresh(ctx, "ethereum", usdc)
	require.Error(t, err)
	assert.ErrorIs(t, err, a.err)

	snap, ok := c.Peek("ethereum", usdc)
	require.True(t, ok)
	assert.Equal(t, 40, snap.Score)

	a.err = nil
	a.snap = types.RiskSnapshot{Score: 10, Category: types.RiskCritical, Tradeable: false}
	_, err = c.Refresh(ctx, "ethereum", usdc)
	require.NoError(t, err)
	snap, _ = c.Peek("ethereum", usdc)
	assert.False(t, snap.Tradeable)
}

func TestResetAndForget(t *testing.T) {
	a := &stubAssessor{snap: types.RiskSnapshot{Score: 90, Category: types.RiskLow, Tradeable: true}}
	c := NewCache(a)
	ctx := context.Background()

	_, _ = c.Get(ctx, "ethereum", usdc)
	c.Forget("ethereum", usdc)
	_, ok := c.Peek("ethereum", usdc)
	assert.False(t, ok)

	_, _ = c.Get(ctx, "ethereum", usdc)
	c.Reset()
	assert.Zero(t, c.Len())

	_, _ = c.Get(ctx, "ethereum", usdc)
	assert.Len(t, a.calls, 3)
}
