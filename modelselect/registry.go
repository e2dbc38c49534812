package modelselect

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"

	"github.com/choreoflow/choreoctl/controlplane"
)

// Provider names the backing model API a tier is fulfilled by.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
)

// Pricing is published per-million-token pricing for one model, used by
// EstimateCostUSD to price a state's ExecutionMetrics (spec §4.6 step 5's
// cost aggregator).
type Pricing struct {
	InputPerMTokens  float64
	OutputPerMTokens float64
}

// EstimateCostUSD prices promptTokens/completionTokens at p's published
// per-million-token rates.
func (p Pricing) EstimateCostUSD(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)/1e6*p.InputPerMTokens + float64(completionTokens)/1e6*p.OutputPerMTokens
}

// Client is the thin, interface-wrapped surface every provider adapter
// satisfies: enough to name the model a tier resolves to and price it,
// without requiring a live call to do either (spec's DOMAIN STACK table:
// "No live network calls are required by the control plane itself"). A
// concrete *AnthropicClient/*OpenAIClient/*BedrockClient also holds the
// real SDK client handle so the same adapter is ready to make the live
// call once an agent-runtime-external execution path needs one.
type Client interface {
	Provider() Provider
	ModelID() string
	Pricing() Pricing
}

// AnthropicClient wraps an anthropic-sdk-go message client for one model
// tier. Grounded on features/model/anthropic/client.go's Options/New shape
// (an injected MessagesClient plus a model identifier), narrowed here to
// just the fields modelselect needs.
type AnthropicClient struct {
	messages anthropicsdk.MessageService
	model    string
	pricing  Pricing
}

// NewAnthropicClient builds an AnthropicClient from an already-constructed
// anthropic-sdk-go client (e.g. sdk.NewClient(option.WithAPIKey(key))).
func NewAnthropicClient(sdkClient anthropicsdk.Client, model string, pricing Pricing) *AnthropicClient {
	return &AnthropicClient{messages: sdkClient.Messages, model: model, pricing: pricing}
}

func (c *AnthropicClient) Provider() Provider { return ProviderAnthropic }
func (c *AnthropicClient) ModelID() string    { return c.model }
func (c *AnthropicClient) Pricing() Pricing   { return c.pricing }

// OpenAIClient wraps an openai-go chat-completions client for one model
// tier, mirroring features/model/openai/client.go's Options/New shape.
type OpenAIClient struct {
	chat    openaisdk.ChatCompletionService
	model   string
	pricing Pricing
}

// NewOpenAIClient builds an OpenAIClient from an already-constructed
// openai-go client (e.g. openai.NewClient(option.WithAPIKey(key))).
func NewOpenAIClient(sdkClient openaisdk.Client, model string, pricing Pricing) *OpenAIClient {
	return &OpenAIClient{chat: sdkClient.Chat.Completions, model: model, pricing: pricing}
}

func (c *OpenAIClient) Provider() Provider { return ProviderOpenAI }
func (c *OpenAIClient) ModelID() string    { return c.model }
func (c *OpenAIClient) Pricing() Pricing   { return c.pricing }

// BedrockClient wraps an AWS Bedrock runtime client for one model tier,
// mirroring features/model/bedrock/client.go's Options/New shape.
type BedrockClient struct {
	runtime *bedrockruntime.Client
	model   string
	pricing Pricing
}

// NewBedrockClient builds a BedrockClient from an already-constructed
// bedrockruntime client (e.g. bedrockruntime.NewFromConfig(cfg)).
func NewBedrockClient(runtime *bedrockruntime.Client, model string, pricing Pricing) *BedrockClient {
	return &BedrockClient{runtime: runtime, model: model, pricing: pricing}
}

func (c *BedrockClient) Provider() Provider { return ProviderBedrock }
func (c *BedrockClient) ModelID() string    { return c.model }
func (c *BedrockClient) Pricing() Pricing   { return c.pricing }

// Registry maps an AMSP tier (0-3) to the Client that fulfills it.
// Constructing one requires a Client for every tier: an incomplete
// registry is a configuration error surfaced at startup, not per call,
// matching spec §9's redesign note on adapter absence.
type Registry struct {
	byTier map[int]Client
}

// NewRegistry builds a Registry from an explicit tier->Client mapping. All
// four tiers (0-3) must be present.
func NewRegistry(byTier map[int]Client) (*Registry, error) {
	for tier := 0; tier <= 3; tier++ {
		if _, ok := byTier[tier]; !ok {
			return nil, fmt.Errorf("modelselect: tier %d has no configured client", tier)
		}
	}
	cp := make(map[int]Client, len(byTier))
	for k, v := range byTier {
		cp[k] = v
	}
	return &Registry{byTier: cp}, nil
}

// Resolve returns the Client configured for tier.
func (r *Registry) Resolve(tier int) (Client, error) {
	c, ok := r.byTier[tier]
	if !ok {
		return nil, fmt.Errorf("modelselect: no client configured for tier %d", tier)
	}
	return c, nil
}

// ToModelSelection turns a complexity Result and the tier it was actually
// scheduled at (after any caller-side escalation/de-escalation) into the
// controlplane.ModelSelection recorded on a state's StateDoc
// (spec §4.6 step 7's amsp audit record).
func (r *Registry) ToModelSelection(res *Result, scheduledTier int) (controlplane.ModelSelection, error) {
	client, err := r.Resolve(scheduledTier)
	if err != nil {
		return controlplane.ModelSelection{}, err
	}
	return controlplane.ModelSelection{
		Tier:       scheduledTier,
		Model:      client.ModelID(),
		FCS:        res.FinalFCS,
		Escalated:  scheduledTier != res.LatencyAdjustedTier,
		Confidence: confidenceScore(res),
	}, nil
}

// confidenceScore collapses the [lower, upper] confidence interval into a
// single 0-1 score: a narrower interval relative to the FCS it brackets
// means higher confidence.
func confidenceScore(res *Result) float64 {
	if res.FinalFCS <= 0 {
		return 1.0
	}
	width := res.ConfidenceInterval.Upper - res.ConfidenceInterval.Lower
	score := 1.0 - (width / (2 * res.FinalFCS))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// DefaultPricing returns illustrative per-tier published pricing
// (USD per million tokens) for the default model table, overridable by
// config. Values approximate each provider's public list pricing at the
// time of writing and are not a billing guarantee.
func DefaultPricing() map[int]Pricing {
	return map[int]Pricing{
		0: {InputPerMTokens: 0.15, OutputPerMTokens: 0.60},  // gpt-4o-mini tier
		1: {InputPerMTokens: 0.80, OutputPerMTokens: 4.00},  // claude-haiku tier
		2: {InputPerMTokens: 3.00, OutputPerMTokens: 15.00}, // claude-sonnet tier
		3: {InputPerMTokens: 15.00, OutputPerMTokens: 75.00}, // claude-opus tier
	}
}

// DefaultModelIDs returns the per-tier default model identifiers, the Go
// analogue of DEFAULT_MODELS_BY_TIER (overridable via config/env in the
// original tool; here via config.Config at adapter construction time).
func DefaultModelIDs() map[int]string {
	return map[int]string{
		0: "gpt-4o-mini",
		1: "claude-haiku-4-5",
		2: "claude-sonnet-4-5",
		3: "claude-opus-4-5",
	}
}
