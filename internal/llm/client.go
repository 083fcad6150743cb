package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/session"
)

const instrumentationName = "github.com/spasmodic123/search-agent/internal/llm"

// Config configures the OpenAI-compatible client.
type Config struct {
	// BaseURL is the chat-completion endpoint, e.g. https://api.deepseek.com/v1.
	BaseURL string

	// APIKey authenticates against the provider.
	APIKey string

	// Model is the chat model name, e.g. deepseek-chat.
	Model string

	// Temperature is the sampling temperature (default: 1.0).
	Temperature float64

	// ContentRiskMarkers are substrings of provider errors that indicate a
	// safety-filter refusal rather than an outage.
	ContentRiskMarkers []string
}

// DefaultConfig returns defaults matching the DeepSeek chat endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.deepseek.com/v1",
		Model:       "deepseek-chat",
		Temperature: 1.0,
		ContentRiskMarkers: []string{
			"Content Exists Risk",
			"invalid_request_error",
		},
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.APIKey == "" {
		return errors.New("api key is required")
	}
	return nil
}

// client implements Client on a langchaingo model.
type client struct {
	model       llms.Model
	cfg         Config
	tools       []llms.Tool
	detectLeak  LeakDetector
	logger      *zap.Logger
	riskMarkers []string
}

// New creates a Client against an OpenAI-compatible endpoint. The tool
// descriptors are attached to requests whenever ToolsEnabled is set.
func New(cfg Config, tools []llms.Tool, detector LeakDetector, logger *zap.Logger) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if detector == nil {
		detector = DefaultLeakDetector
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}

	return &client{
		model:       model,
		cfg:         cfg,
		tools:       tools,
		detectLeak:  detector,
		logger:      logger,
		riskMarkers: cfg.ContentRiskMarkers,
	}, nil
}

// NewWithModel creates a Client on an existing model. Used by tests to
// substitute a scripted provider.
func NewWithModel(model llms.Model, tools []llms.Tool, detector LeakDetector, logger *zap.Logger) Client {
	if detector == nil {
		detector = DefaultLeakDetector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := DefaultConfig()
	return &client{
		model:       model,
		cfg:         cfg,
		tools:       tools,
		detectLeak:  detector,
		logger:      logger,
		riskMarkers: cfg.ContentRiskMarkers,
	}
}

// Generate sends the history to the provider and normalizes the response.
func (c *client) Generate(ctx context.Context, history []session.Message, opts GenerateOptions) (*Response, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Bool("tools_enabled", opts.ToolsEnabled),
		attribute.Int("history_len", len(history)),
	)

	callOpts := []llms.CallOption{llms.WithTemperature(c.cfg.Temperature)}
	if opts.ToolsEnabled && len(c.tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(c.tools))
	}

	resp, err := c.model.GenerateContent(ctx, toProviderMessages(history), callOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choice list", ErrMalformedResponse)
	}

	choice := resp.Choices[0]
	out := &Response{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}

	if len(out.ToolCalls) == 0 {
		if c.detectLeak(out.Text) {
			c.logger.Warn("raw tool-call protocol leaked into text output")
			return nil, fmt.Errorf("%w: raw tool-call syntax in text output", ErrMalformedResponse)
		}
		if strings.TrimSpace(out.Text) == "" {
			return nil, fmt.Errorf("%w: no tool calls and no text", ErrMalformedResponse)
		}
	}

	span.SetAttributes(attribute.Int("tool_calls", len(out.ToolCalls)))
	return out, nil
}

// classify maps provider errors onto the taxonomy.
func (c *client) classify(err error) error {
	msg := err.Error()
	for _, marker := range c.riskMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrContentPolicy, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// toProviderMessages converts session messages to the provider wire format.
func toProviderMessages(history []session.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case session.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case session.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case session.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, mc)
		case session.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}
