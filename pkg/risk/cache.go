package risk

import (
	"context"
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"dex-console/pkg/chain"
	"dex-console/pkg/logger"
	"dex-console/pkg/types"
)

// Assessor fetches a fresh assessment; *client.Gateway implements it
type Assessor interface {
	AssessRisk(ctx context.Context, chainName, tokenAddress string) (types.RiskSnapshot, error)
}

// Cache holds risk snapshots keyed by (chain, token). Entries never expire on
// their own; they are replaced by Refresh or dropped by Reset.
type Cache struct {
	c        *gocache.Cache
	assessor Assessor
	log      *zap.Logger
}

// NewCache creates an empty cache backed by assessor
func NewCache(assessor Assessor) *Cache {
	return &Cache{
		c:        gocache.New(gocache.NoExpiration, 0),
		assessor: assessor,
		log:      logger.Named("risk"),
	}
}

// Key is the cache key for a token on a chain
func Key(chainName, token string) string {
	c, err := chain.ByName(chainName)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(chainName)) + "|" + strings.TrimSpace(token)
	}
	return c.Name + "|" + c.NormalizeAddress(strings.TrimSpace(token))
}

// native reports whether token is the chain's native asset, which is never assessed
func native(chainName, token string) bool {
	c, err := chain.ByName(chainName)
	return err == nil && c.IsNative(token)
}

// Get returns the cached snapshot, fetching it on a miss
func (c *Cache) Get(ctx context.Context, chainName, token string) (types.RiskSnapshot, error) {
	if native(chainName, token) {
		return types.NativeRiskSnapshot(), nil
	}
	if snap, ok := c.Peek(chainName, token); ok {
		return snap, nil
	}
	return c.Refresh(ctx, chainName, token)
}

// Refresh fetches a new snapshot and replaces the entry. On failure the
// previous entry, if any, is left in place.
func (c *Cache) Refresh(ctx context.Context, chainName, token string) (types.RiskSnapshot, error) {
	if native(chainName, token) {
		return types.NativeRiskSnapshot(), nil
	}

	snap, err := c.assessor.AssessRisk(ctx, chainName, token)
	if err != nil {
		c.log.Warn("Risk assessment failed",
			zap.String("chain", chainName),
			zap.String("token", token),
			zap.Error(err))
		return types.RiskSnapshot{}, fmt.Errorf("failed to assess risk for %s: %w", token, err)
	}

	c.c.Set(Key(chainName, token), snap, gocache.NoExpiration)
	c.log.Debug("Risk snapshot cached",
		zap.String("chain", chainName),
		zap.String("token", token),
		zap.Int("score", snap.Score),
		zap.String("category", string(snap.Category)),
		zap.Bool("tradeable", snap.Tradeable))
	return snap, nil
}

// Peek returns the snapshot without fetching. Native tokens always hit.
func (c *Cache) Peek(chainName, token string) (types.RiskSnapshot, bool) {
	if native(chainName, token) {
		return types.NativeRiskSnapshot(), true
	}
	v, found := c.c.Get(Key(chainName, token))
	if !found {
		return types.RiskSnapshot{}, false
	}
	snap, ok := v.(types.RiskSnapshot)
	return snap, ok
}

// Forget drops one entry
func (c *Cache) Forget(chainName, token string) {
	c.c.Delete(Key(chainName, token))
}

// Reset drops every entry
func (c *Cache) Reset() {
	c.c.Flush()
}

// Len is the number of cached entries
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
