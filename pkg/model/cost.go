package model

import (
	"strings"
	"sync"

	"github.com/jg-phare/taskcore/pkg/types"
)

// Pricing holds per-model token costs.
type Pricing struct {
	InputPerMTok      float64 // USD per 1M input tokens
	OutputPerMTok     float64 // USD per 1M output tokens
	CacheReadPerMTok  float64 // USD per 1M cache-read tokens
	CacheWritePerMTok float64 // USD per 1M cache-write tokens
}

var (
	pricingMu sync.RWMutex
	pricing   = map[string]Pricing{
		"claude-opus-4-5":   {InputPerMTok: 15.0, OutputPerMTok: 75.0, CacheReadPerMTok: 1.50, CacheWritePerMTok: 18.75},
		"claude-sonnet-4-5": {InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75},
		"claude-haiku-4-5":  {InputPerMTok: 0.80, OutputPerMTok: 4.0, CacheReadPerMTok: 0.08, CacheWritePerMTok: 1.0},
		"gpt-5-mini":        {InputPerMTok: 0.25, OutputPerMTok: 2.0},
		"gpt-5-nano":        {InputPerMTok: 0.05, OutputPerMTok: 0.40},
	}
)

// GetPricing returns the pricing of a model. Provider prefixes are ignored.
func GetPricing(name string) (Pricing, bool) {
	_, m := splitModel(name, "")
	pricingMu.RLock()
	defer pricingMu.RUnlock()
	p, ok := pricing[m]
	return p, ok
}

// SetPricing sets the pricing of a model.
func SetPricing(name string, p Pricing) {
	_, m := splitModel(name, "")
	pricingMu.Lock()
	defer pricingMu.Unlock()
	pricing[m] = p
}

// Cost computes the USD cost of usage on a model. Unknown models cost 0.
func Cost(name string, u types.Usage) float64 {
	p, ok := GetPricing(name)
	if !ok {
		return 0
	}
	cost := float64(u.InputTokens) * p.InputPerMTok / 1_000_000
	cost += float64(u.OutputTokens) * p.OutputPerMTok / 1_000_000
	cost += float64(u.CacheReadTokens) * p.CacheReadPerMTok / 1_000_000
	cost += float64(u.CacheWriteTokens) * p.CacheWritePerMTok / 1_000_000
	return cost
}

// splitModel splits "provider/model" into its parts. A name without a
// prefix uses defaultProvider.
func splitModel(name, defaultProvider string) (provider, model string) {
	if i := strings.Index(name, "/"); i > 0 {
		return name[:i], name[i+1:]
	}
	return defaultProvider, name
}
