package observer

import (
	"context"
	"time"

	"github.com/spotty118/saturn"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a saturn.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner saturn.Provider
	model string
	inst  *Instruments
}

// WrapProvider returns an instrumented provider. model is recorded on every
// span and metric.
func WrapProvider(inner saturn.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, model: model, inst: inst}
}

// Name returns the wrapped provider's name.
func (o *ObservedProvider) Name() string { return o.inner.Name() }

// Chat instruments a non-streaming request.
func (o *ObservedProvider) Chat(ctx context.Context, req saturn.ChatRequest) (saturn.ChatResponse, error) {
	return o.observe(ctx, "llm.chat", func(ctx context.Context) (saturn.ChatResponse, error) {
		return o.inner.Chat(ctx, req)
	})
}

// ChatStream instruments a streaming request.
func (o *ObservedProvider) ChatStream(ctx context.Context, req saturn.ChatRequest, ch chan<- saturn.StreamEvent) (saturn.ChatResponse, error) {
	return o.observe(ctx, "llm.chat_stream", func(ctx context.Context) (saturn.ChatResponse, error) {
		return o.inner.ChatStream(ctx, req, ch)
	})
}

func (o *ObservedProvider) observe(ctx context.Context, spanName string, call func(context.Context) (saturn.ChatResponse, error)) (saturn.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, spanName, trace.WithAttributes(
		AttrProviderName.String(o.inner.Name()),
		AttrModelName.String(o.model),
	))
	defer span.End()
	start := time.Now()

	resp, err := call(ctx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrProviderName.String(o.inner.Name()),
		AttrModelName.String(o.model),
		AttrStatus.String(status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrModelName.String(o.model),
	))
	if err == nil {
		o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
			AttrModelName.String(o.model), AttrTokenKind.String("input")))
		o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
			AttrModelName.String(o.model), AttrTokenKind.String("output")))
	}
	return resp, err
}

var _ saturn.Provider = (*ObservedProvider)(nil)
