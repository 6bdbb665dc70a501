package observer

import (
	"context"
	"encoding/json"

	"github.com/spotty118/saturn"

	"go.opentelemetry.io/otel/metric"
)

// ToolMetricsHook returns a runner hook that counts tool executions. Spans
// and durations come from the runner's tracer; this hook only feeds the
// counter.
func ToolMetricsHook(inst *Instruments) saturn.ToolCallHook {
	return func(name string, _ json.RawMessage) {
		inst.ToolExecutions.Add(context.Background(), 1, metric.WithAttributes(
			AttrToolName.String(name),
		))
	}
}
