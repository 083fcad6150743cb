// Package roles implements the Writer and Critic role controllers.
//
// Both roles share one Controller type parameterized by a Config; they
// differ only in prompts, feedback injection, and what they do with a
// final text response (the writer captures the draft, the critic parses
// its verdict).
package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/critique"
	"github.com/spasmodic123/search-agent/internal/llm"
	"github.com/spasmodic123/search-agent/internal/session"
)

const instrumentationName = "github.com/spasmodic123/search-agent/internal/roles"

// BudgetMax is the maximum number of tool-requesting provider turns a role
// may spend per iteration before tools are forcibly disabled.
const BudgetMax = 6

// Signal tells the orchestrator where control goes after a role step.
type Signal int

const (
	// SignalToolRequested routes to the role's tool-call state.
	SignalToolRequested Signal = iota
	// SignalTextProduced hands control to the other role (or routing).
	SignalTextProduced
)

// Config fixes one role's behavior.
type Config struct {
	// Name identifies the role ("writer" or "critic").
	Name string

	// SystemPrompt seeds the role's history on first use.
	SystemPrompt string

	// InjectsFeedback appends the latest critique advice as a user message
	// before generating (writer only, idempotent per advice string).
	InjectsFeedback bool

	// CapturesDraft overwrites the session draft on a final text response.
	CapturesDraft bool

	// ReviewsDraft injects the current draft as a review prompt at the
	// start of each iteration and parses score/advice from text responses.
	ReviewsDraft bool

	// BudgetNotice is the system message injected when the tool budget is
	// exhausted.
	BudgetNotice string
}

// Controller drives one role: it assembles the outgoing history, invokes
// the generation client, enforces the tool budget, and applies the local
// error recoveries.
type Controller struct {
	cfg    Config
	client llm.Client
	logger *zap.Logger
}

// NewWriter creates the writer controller.
func NewWriter(client llm.Client, logger *zap.Logger) (*Controller, error) {
	return newController(Config{
		Name:            "writer",
		SystemPrompt:    writerSystemPrompt,
		InjectsFeedback: true,
		CapturesDraft:   true,
		BudgetNotice:    writerBudgetNotice,
	}, client, logger)
}

// NewCritic creates the critic controller.
func NewCritic(client llm.Client, logger *zap.Logger) (*Controller, error) {
	return newController(Config{
		Name:         "critic",
		SystemPrompt: criticSystemPrompt,
		ReviewsDraft: true,
		BudgetNotice: criticBudgetNotice,
	}, client, logger)
}

func newController(cfg Config, client llm.Client, logger *zap.Logger) (*Controller, error) {
	if client == nil {
		return nil, errors.New("generation client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		client: client,
		logger: logger.Named(cfg.Name),
	}, nil
}

// Name returns the role name.
func (c *Controller) Name() string { return c.cfg.Name }

// Step runs one generation turn for the role, mutating the session state
// through its append helpers, and reports where control goes next.
func (c *Controller) Step(ctx context.Context, st *session.State) (Signal, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "roles.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("role", c.cfg.Name),
		attribute.Int("iteration", st.IterationCount),
	)

	c.injectContext(st)

	toolsEnabled := true
	if c.budgetUsed(st) >= BudgetMax {
		// Tools off makes a further tool request structurally impossible;
		// the notice tells the provider why.
		if !historyContains(c.history(st), session.RoleSystem, c.cfg.BudgetNotice) {
			c.append(st, session.Message{Role: session.RoleSystem, Content: c.cfg.BudgetNotice})
		}
		toolsEnabled = false
		c.logger.Info("tool budget exhausted, forcing final output",
			zap.String("thread_id", st.ThreadID),
		)
	}

	resp, err := c.generate(ctx, st, llm.GenerateOptions{ToolsEnabled: toolsEnabled})
	if err != nil {
		if errors.Is(err, llm.ErrMalformedResponse) {
			// Do not retry generation here: append a corrective notice and
			// route through the tool-call state so the next step re-enters
			// generation instead of treating leakage as a final answer.
			c.append(st, session.Message{Role: session.RoleSystem, Content: correctiveNotice})
			c.logger.Warn("malformed provider output, injected corrective notice",
				zap.String("thread_id", st.ThreadID),
			)
			return SignalToolRequested, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%s step: %w", c.cfg.Name, err)
	}

	msg := session.Message{
		Role:      session.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	}
	c.append(st, msg)

	if len(resp.ToolCalls) > 0 {
		span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))
		return SignalToolRequested, nil
	}

	if c.cfg.CapturesDraft {
		st.CurrentDraft = resp.Text
	}
	if c.cfg.ReviewsDraft {
		v := critique.Parse(resp.Text)
		st.Score = v.Score
		st.CritiqueAdvice = v.Advice
		span.SetAttributes(attribute.Int("score", v.Score))
		c.logger.Info("critique parsed",
			zap.String("thread_id", st.ThreadID),
			zap.Int("score", v.Score),
		)
	}
	return SignalTextProduced, nil
}

// generate invokes the client, applying the single content-policy recovery:
// if the most recent history message is a tool result, its content is
// replaced with a sanitized placeholder and the call is retried once.
func (c *Controller) generate(ctx context.Context, st *session.State, opts llm.GenerateOptions) (*llm.Response, error) {
	resp, err := c.client.Generate(ctx, c.history(st), opts)
	if !errors.Is(err, llm.ErrContentPolicy) {
		return resp, err
	}

	hist := c.history(st)
	last := len(hist) - 1
	if last < 0 || hist[last].Role != session.RoleTool {
		// Recovery precondition unmet: fatal.
		return nil, err
	}

	c.logger.Warn("content policy rejection, sanitizing last tool result",
		zap.String("thread_id", st.ThreadID),
		zap.String("tool", hist[last].Name),
	)
	c.setLastContent(st, sanitizedToolResult)
	return c.client.Generate(ctx, c.history(st), opts)
}

// injectContext appends role-specific pending context: the system prompt on
// first use, critique feedback for the writer, and the per-iteration review
// prompt (plus budget-reset notice) for the critic.
func (c *Controller) injectContext(st *session.State) {
	if len(c.history(st)) == 0 {
		c.append(st, session.Message{Role: session.RoleSystem, Content: c.cfg.SystemPrompt})
		if c.cfg.Name == "writer" {
			c.append(st, session.Message{Role: session.RoleUser, Content: st.Topic})
		}
	}

	if c.cfg.InjectsFeedback && st.CritiqueAdvice != "" && st.IterationCount > 0 {
		if !adviceAlreadyInjected(c.history(st), st.CritiqueAdvice) {
			c.append(st, session.Message{
				Role:    session.RoleUser,
				Content: feedbackPrompt(st.Score, st.CritiqueAdvice),
			})
		}
	}

	if c.cfg.ReviewsDraft && st.CriticToolBudgetUsed == 0 {
		review := reviewPrompt(st.CurrentDraft)
		// One review prompt per iteration, not per critic turn.
		if !historyContains(c.history(st), session.RoleUser, review) {
			if st.IterationCount > 0 {
				c.append(st, session.Message{Role: session.RoleSystem, Content: criticResetNotice})
			}
			c.append(st, session.Message{Role: session.RoleUser, Content: review})
		}
	}
}

// history accessors, switched on role

func (c *Controller) history(st *session.State) []session.Message {
	if c.cfg.Name == "critic" {
		return st.CriticHistory
	}
	return st.WriterHistory
}

func (c *Controller) append(st *session.State, msgs ...session.Message) {
	if c.cfg.Name == "critic" {
		st.AppendCritic(msgs...)
		return
	}
	st.AppendWriter(msgs...)
}

func (c *Controller) setLastContent(st *session.State, content string) {
	if c.cfg.Name == "critic" {
		st.CriticHistory[len(st.CriticHistory)-1].Content = content
		return
	}
	st.WriterHistory[len(st.WriterHistory)-1].Content = content
}

func (c *Controller) budgetUsed(st *session.State) int {
	if c.cfg.Name == "critic" {
		return st.CriticToolBudgetUsed
	}
	return st.WriterToolBudgetUsed
}

func historyContains(hist []session.Message, role session.Role, content string) bool {
	for _, m := range hist {
		if m.Role == role && m.Content == content {
			return true
		}
	}
	return false
}

// adviceAlreadyInjected checks whether a user message already embeds this
// exact advice string, guarding feedback injection idempotence.
func adviceAlreadyInjected(hist []session.Message, advice string) bool {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role == session.RoleUser && strings.Contains(hist[i].Content, advice) {
			return true
		}
	}
	return false
}
