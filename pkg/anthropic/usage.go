package anthropic

import (
	"strings"

	"go.uber.org/zap"
)

// Usage counts the tokens one call consumed.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Total is every token billed, cached or not.
func (u Usage) Total() int64 { return u.Input + u.Output + u.CacheWrite + u.CacheRead }

// price is USD per million tokens.
type price struct{ in, out float64 }

// Keyed by model family so dated IDs resolve.
var prices = []struct {
	prefix string
	price
}{
	{"claude-haiku-4-5", price{1.00, 5.00}},
	{"claude-3-5-haiku", price{0.80, 4.00}},
	{"claude-sonnet-4", price{3.00, 15.00}},
	{"claude-opus-4", price{15.00, 75.00}},
}

func lookupPrice(model string) (price, bool) {
	for _, p := range prices {
		if strings.HasPrefix(model, p.prefix) {
			return p.price, true
		}
	}
	return price{}, false
}

// Cost estimates the USD cost of u on model. Cache writes bill at 1.25x
// input, reads at 0.1x. Unknown models cost 0.
func (u Usage) Cost(model string) float64 {
	p, ok := lookupPrice(model)
	if !ok {
		return 0
	}
	in := float64(u.Input) + 1.25*float64(u.CacheWrite) + 0.1*float64(u.CacheRead)
	return (in*p.in + float64(u.Output)*p.out) / 1e6
}

// Log writes u and its estimated cost for one entity.
func (u Usage) Log(model, entity string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.String("entity", entity),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	)
}
