package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/spasmodic123/search-agent/internal/session"
)

var (
	// ErrProviderUnavailable indicates a transport failure or provider outage.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrContentPolicy indicates the provider refused due to safety filtering.
	ErrContentPolicy = errors.New("content policy rejected")

	// ErrMalformedResponse indicates the provider returned neither structured
	// tool calls nor usable text.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Response is a single provider turn: free text, requested tool calls,
// or both.
type Response struct {
	Text      string
	ToolCalls []session.ToolCall
}

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	// ToolsEnabled attaches the tool descriptors to the request. When false
	// a tool request is structurally impossible.
	ToolsEnabled bool
}

// Client is the generation capability used by the role controllers.
type Client interface {
	Generate(ctx context.Context, history []session.Message, opts GenerateOptions) (*Response, error)
}

// LeakDetector reports whether text is leaked raw tool-call protocol rather
// than a final answer. The signature is provider-specific, so detection is
// injected instead of baked into the state machine.
type LeakDetector func(text string) bool

// rawCallMarker is the raw token DeepSeek emits when it fails to produce a
// structured tool call.
const rawCallMarker = "<｜DSML｜function_calls>"

// DefaultLeakDetector matches the DeepSeek raw tool-call marker.
func DefaultLeakDetector(text string) bool {
	return strings.Contains(text, rawCallMarker)
}
