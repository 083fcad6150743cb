package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/session"
)

const instrumentationName = "github.com/spasmodic123/search-agent/internal/tools"

// errorPrefix marks textual tool results that report a failure.
const errorPrefix = "ERROR: "

// CapabilityFunc executes one tool call with decoded arguments.
type CapabilityFunc func(ctx context.Context, args map[string]any) (string, error)

// Gateway dispatches provider tool requests to capabilities. It never
// raises: failures surface as ERROR-prefixed tool-result content.
type Gateway interface {
	Invoke(ctx context.Context, calls []session.ToolCall) []session.Message
}

type gateway struct {
	caps   map[string]CapabilityFunc
	logger *zap.Logger

	invokeCounter metric.Int64Counter
	failCounter   metric.Int64Counter
}

// NewGateway creates a gateway serving search_web and visit_page.
func NewGateway(searcher *Searcher, visitor *Visitor, logger *zap.Logger) Gateway {
	caps := map[string]CapabilityFunc{
		ToolSearchWeb: func(ctx context.Context, args map[string]any) (string, error) {
			return searcher.Search(ctx, stringArg(args, "query"))
		},
		ToolVisitPage: func(ctx context.Context, args map[string]any) (string, error) {
			return visitor.Visit(ctx, stringArg(args, "url"))
		},
	}
	return NewGatewayWithCapabilities(caps, logger)
}

// NewGatewayWithCapabilities creates a gateway over an explicit capability
// set. Used by tests to substitute doubles.
func NewGatewayWithCapabilities(caps map[string]CapabilityFunc, logger *zap.Logger) Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &gateway{caps: caps, logger: logger}

	meter := otel.Meter(instrumentationName)
	var err error
	g.invokeCounter, err = meter.Int64Counter(
		"searchagent.tools.invocations_total",
		metric.WithDescription("Total tool capability invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		logger.Warn("failed to create invoke counter", zap.Error(err))
	}
	g.failCounter, err = meter.Int64Counter(
		"searchagent.tools.failures_total",
		metric.WithDescription("Tool invocations that produced an error result"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		logger.Warn("failed to create failure counter", zap.Error(err))
	}

	return g
}

// Invoke runs each requested call and wraps the outcome as a tool-result
// message correlated by call id.
func (g *gateway) Invoke(ctx context.Context, calls []session.ToolCall) []session.Message {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "tools.invoke")
	defer span.End()
	span.SetAttributes(attribute.Int("call_count", len(calls)))

	results := make([]session.Message, 0, len(calls))
	for _, call := range calls {
		results = append(results, session.Message{
			Role:       session.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    g.run(ctx, call),
		})
	}
	return results
}

func (g *gateway) run(ctx context.Context, call session.ToolCall) string {
	if g.invokeCounter != nil {
		g.invokeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", call.Name)))
	}

	fn, ok := g.caps[call.Name]
	if !ok {
		g.countFailure(ctx, call.Name)
		return fmt.Sprintf("%sunknown tool %q", errorPrefix, call.Name)
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			g.countFailure(ctx, call.Name)
			return fmt.Sprintf("%sinvalid arguments for %s: %v", errorPrefix, call.Name, err)
		}
	}

	result, err := fn(ctx, args)
	if err != nil {
		g.logger.Warn("tool execution failed",
			zap.String("tool", call.Name),
			zap.Error(err),
		)
		g.countFailure(ctx, call.Name)
		return errorPrefix + err.Error()
	}
	return result
}

func (g *gateway) countFailure(ctx context.Context, tool string) {
	if g.failCounter != nil {
		g.failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
