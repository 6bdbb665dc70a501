package observer

import "go.opentelemetry.io/otel/attribute"

// Shared attribute keys for spans and metrics.
var (
	AttrProviderName = attribute.Key("llm.provider")
	AttrModelName    = attribute.Key("llm.model")
	AttrStatus       = attribute.Key("status")
	AttrTokenKind    = attribute.Key("token.kind")
	AttrToolName     = attribute.Key("tool.name")
	AttrAgentName    = attribute.Key("agent.name")
	AttrPatchFile    = attribute.Key("patch.file")
	AttrPatchMode    = attribute.Key("patch.strategy")
)
