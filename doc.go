// Package saturn is the core of an AI coding assistant: a tool-calling agent
// loop over OpenAI-compatible chat providers, with a patch engine, a
// multi-agent orchestrator, and session persistence.
//
// # Quick Start
//
// Create an agent over a provider and a tool registry:
//
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//	registry := saturn.NewRegistry(logger)
//	registry.Register(file.NewReadTool(root))
//	registry.Register(file.NewWriteTool(root))
//
//	agent := saturn.NewAgent(
//		saturn.DefaultConfig("assistant", model),
//		provider,
//		saturn.WithRegistry(registry),
//		saturn.WithStore(store),
//	)
//
//	result, err := agent.Execute(ctx, "refactor the config loader")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — LLM backend (chat, tool calling, streaming)
//   - [Tool] — pluggable capability for LLM function calling
//   - [Store] — session and message persistence
//   - [Tracer] — span abstraction for optional telemetry
//
// Providers compose with middleware: [WithRetry] for transient-error backoff
// and [WithRateLimit] for proactive request/token budgets.
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenRouter, OpenAI, and compatible APIs).
// Storage: store/sqlite (local), store/postgres (shared).
// Tools: tools/file, tools/grep, tools/shell, tools/edit, tools/subagent.
// Patching: patch (local hunk application, remote apply with fallback).
//
// See cmd/saturn for the complete reference application.
package saturn
