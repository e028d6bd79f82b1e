package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for LLM and embedding spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedMethod     = attribute.Key("embed.method")
	AttrEmbedTextChars  = attribute.Key("embed.text_chars")
	AttrEmbedDimensions = attribute.Key("embed.dimensions")
)
