package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
	"github.com/sells-group/facility-cli/pkg/anthropic"
)

const (
	llmMaxConfidence     = 0.5
	llmDefaultConfidence = 0.3
	llmMaxTextRunes      = 8000
)

const llmSystemPrompt = `You extract facts about a fitness facility from web page text.
Reply with a single JSON object and nothing else, using these keys:
phone, open_time, close_time, membership_price, pt_price, group_class_price,
day_pass_price, minimum_price, price_range, discount (strings, "" when unknown),
facilities (array of short English amenity names such as shower, locker, parking, sauna),
confidence (number between 0 and 1 for how sure you are the text describes this facility).
Times use 24-hour HH:MM. Copy prices as written, including the currency unit.
Never guess: leave a field empty when the text does not state it.`

// llmFacts is the JSON shape requested from the model.
type llmFacts struct {
	Phone           string   `json:"phone"`
	OpenTime        string   `json:"open_time"`
	CloseTime       string   `json:"close_time"`
	MembershipPrice string   `json:"membership_price"`
	PTPrice         string   `json:"pt_price"`
	GroupClassPrice string   `json:"group_class_price"`
	DayPassPrice    string   `json:"day_pass_price"`
	MinimumPrice    string   `json:"minimum_price"`
	PriceRange      string   `json:"price_range"`
	Discount        string   `json:"discount"`
	Facilities      []string `json:"facilities"`
	Confidence      float64  `json:"confidence"`
}

// LLMExtract asks a language model to read the page text already fetched for
// the entity.
type LLMExtract struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	pages     *PageCache
}

// NewLLMExtract builds the llm_extract strategy. client may be nil.
func NewLLMExtract(client anthropic.Client, model string, maxTokens int64, pages *PageCache) *LLMExtract {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMExtract{client: client, model: model, maxTokens: maxTokens, pages: pages}
}

// Name returns the strategy name.
func (l *LLMExtract) Name() string { return StrategyLLMExtract }

// Available reports whether an Anthropic client is configured.
func (l *LLMExtract) Available() bool { return l.client != nil }

// Execute sends the cached page text to the model and parses its JSON reply.
func (l *LLMExtract) Execute(ctx context.Context, fc fallback.Context) (model.RawSourceResult, error) {
	text, ok := l.pages.Get(fc.Entity.Key())
	if !ok {
		return model.RawSourceResult{}, resilience.Permanent(eris.New("source: no page text for llm extract"))
	}
	if r := []rune(text); len(r) > llmMaxTextRunes {
		text = string(r[:llmMaxTextRunes])
	}

	temp := 0.0
	resp, err := l.client.Complete(ctx, anthropic.Request{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		System:      llmSystemPrompt,
		CacheSystem: true,
		Prompt:      fmt.Sprintf("Facility: %s\nAddress: %s\n\nPage text:\n%s", fc.Entity.Name, fc.Entity.Address, text),
		Temperature: &temp,
	})
	if err != nil {
		return model.RawSourceResult{}, classifyLLM(err)
	}
	resp.Usage.Log(l.model, fc.Entity.Name)
	if resp.Truncated() {
		zap.L().Warn("source: llm reply truncated",
			zap.String("entity", fc.Entity.Name), zap.Int64("max_tokens", l.maxTokens))
	}

	facts, err := parseLLMFacts(resp.Text)
	if err != nil {
		return model.RawSourceResult{}, resilience.Permanent(err)
	}

	conf := facts.Confidence
	if conf <= 0 {
		conf = llmDefaultConfidence
	}
	if conf > llmMaxConfidence {
		conf = llmMaxConfidence
	}

	res := model.RawSourceResult{
		Facts: model.Facts{
			Phone:           strings.TrimSpace(facts.Phone),
			OpenTime:        strings.TrimSpace(facts.OpenTime),
			CloseTime:       strings.TrimSpace(facts.CloseTime),
			MembershipPrice: strings.TrimSpace(facts.MembershipPrice),
			PTPrice:         strings.TrimSpace(facts.PTPrice),
			GroupClassPrice: strings.TrimSpace(facts.GroupClassPrice),
			DayPassPrice:    strings.TrimSpace(facts.DayPassPrice),
			MinimumPrice:    strings.TrimSpace(facts.MinimumPrice),
			PriceRange:      strings.TrimSpace(facts.PriceRange),
			Discount:        strings.TrimSpace(facts.Discount),
			Facilities:      normalizeFacilities(facts.Facilities),
		},
		Name:       fc.Entity.Name,
		Address:    fc.Entity.Address,
		Confidence: conf,
		Source:     StrategyLLMExtract,
	}
	if !res.HasAny() {
		return model.RawSourceResult{}, resilience.Permanent(eris.New("source: llm found no facts"))
	}
	return res, nil
}

// classifyLLM maps an API error onto the resilience taxonomy. Errors without
// a status (network, context) pass through for the retry manager to judge.
func classifyLLM(err error) error {
	code := anthropic.StatusCode(err)
	switch {
	case code == 0:
		return err
	case resilience.IsRateLimitStatus(code):
		return resilience.NewRateLimitError(err, code, anthropic.RetryAfter(err))
	default:
		return resilience.ClassifyStatus(code, err)
	}
}

// parseLLMFacts decodes the first JSON object in s, tolerating code fences
// and surrounding prose.
func parseLLMFacts(s string) (llmFacts, error) {
	var f llmFacts
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return f, eris.New("source: llm reply has no JSON object")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &f); err != nil {
		return f, eris.Wrap(err, "source: decode llm reply")
	}
	return f, nil
}

func normalizeFacilities(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		f = strings.ReplaceAll(f, " ", "_")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
