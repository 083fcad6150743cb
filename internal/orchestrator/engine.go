package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/events"
	"github.com/spasmodic123/search-agent/internal/llm"
	"github.com/spasmodic123/search-agent/internal/roles"
	"github.com/spasmodic123/search-agent/internal/session"
	"github.com/spasmodic123/search-agent/internal/tools"
)

const instrumentationName = "github.com/spasmodic123/search-agent/internal/orchestrator"

// ErrStepLimit indicates a run exceeded the hard step bound without
// reaching a terminal state.
var ErrStepLimit = errors.New("run exceeded step limit")

// Engine is the orchestration state machine. All collaborators are
// explicit dependencies so tests can substitute doubles.
type Engine struct {
	writer  *roles.Controller
	critic  *roles.Controller
	gateway tools.Gateway
	store   session.Store
	pub     events.Publisher
	logger  *zap.Logger

	stepCounter     metric.Int64Counter
	terminalCounter metric.Int64Counter
}

// New creates an engine over the given collaborators.
func New(client llm.Client, gateway tools.Gateway, store session.Store, pub events.Publisher, logger *zap.Logger) (*Engine, error) {
	if client == nil {
		return nil, errors.New("generation client is required")
	}
	if gateway == nil {
		return nil, errors.New("tool gateway is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer, err := roles.NewWriter(client, logger)
	if err != nil {
		return nil, fmt.Errorf("create writer controller: %w", err)
	}
	critic, err := roles.NewCritic(client, logger)
	if err != nil {
		return nil, fmt.Errorf("create critic controller: %w", err)
	}

	e := &Engine{
		writer:  writer,
		critic:  critic,
		gateway: gateway,
		store:   store,
		pub:     pub,
		logger:  logger.Named("orchestrator"),
	}
	e.initMetrics()
	return e, nil
}

func (e *Engine) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	e.stepCounter, err = meter.Int64Counter(
		"searchagent.orchestrator.steps_total",
		metric.WithDescription("Completed orchestration steps"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		e.logger.Warn("failed to create step counter", zap.Error(err))
	}

	e.terminalCounter, err = meter.Int64Counter(
		"searchagent.orchestrator.runs_terminal_total",
		metric.WithDescription("Runs that reached the terminal state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		e.logger.Warn("failed to create terminal counter", zap.Error(err))
	}
}

// Run drives the thread's state machine to Terminal and returns the final
// draft and score (the synchronous surface).
func (e *Engine) Run(ctx context.Context, threadID, topic string) (*Result, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	e.emit(ctx, events.Event{
		ThreadID: threadID,
		Node:     NodeSystem,
		Type:     events.TypeStart,
		Content:  "starting research: " + topic,
		At:       time.Now(),
	})

	for steps := 0; steps < maxStepsPerRun; steps++ {
		st, err := e.Step(ctx, threadID, topic)
		if err != nil {
			e.emit(ctx, events.Event{
				ThreadID: threadID,
				Node:     NodeSystem,
				Type:     events.TypeError,
				Content:  err.Error(),
				At:       time.Now(),
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if st.Terminal() {
			if e.terminalCounter != nil {
				e.terminalCounter.Add(ctx, 1)
			}
			res := &Result{
				ThreadID:   threadID,
				Draft:      st.CurrentDraft,
				Score:      st.Score,
				Iterations: st.IterationCount,
			}
			e.emit(ctx, events.Event{
				ThreadID: threadID,
				Node:     NodeSystem,
				Type:     events.TypeComplete,
				Content:  st.CurrentDraft,
				Score:    st.Score,
				At:       time.Now(),
			})
			span.SetAttributes(attribute.Int("score", res.Score))
			return res, nil
		}
	}

	err := fmt.Errorf("%w (%d steps) for thread %s", ErrStepLimit, maxStepsPerRun, threadID)
	e.emit(ctx, events.Event{
		ThreadID: threadID,
		Node:     NodeSystem,
		Type:     events.TypeError,
		Content:  err.Error(),
		At:       time.Now(),
	})
	return nil, err
}

// Step performs exactly one transition for the thread and persists the
// result. A terminal session is returned unchanged: Terminal has no
// outgoing transitions.
func (e *Engine) Step(ctx context.Context, threadID, topic string) (*session.State, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "orchestrator.step")
	defer span.End()

	st, err := e.store.Load(ctx, threadID)
	if errors.Is(err, session.ErrNotFound) {
		st = session.NewState(threadID, topic)
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	span.SetAttributes(
		attribute.String("thread_id", threadID),
		attribute.String("phase", string(st.Phase)),
	)

	if st.Terminal() {
		return st, nil
	}

	evs, err := e.transition(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := e.store.Save(ctx, threadID, st); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if e.stepCounter != nil {
		e.stepCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(st.Phase))))
	}
	for _, ev := range evs {
		e.emit(ctx, ev)
	}
	return st, nil
}

// transition applies one state-machine edge in place.
func (e *Engine) transition(ctx context.Context, st *session.State) ([]events.Event, error) {
	switch st.Phase {
	case session.PhaseWriterThinking:
		return e.roleThinking(ctx, st, e.writer)
	case session.PhaseWriterToolCall:
		return e.roleToolCall(ctx, st, e.writer)
	case session.PhaseCriticThinking:
		return e.roleThinking(ctx, st, e.critic)
	case session.PhaseCriticToolCall:
		return e.roleToolCall(ctx, st, e.critic)
	case session.PhaseAdvancing:
		return e.advance(st), nil
	default:
		return nil, fmt.Errorf("no transition from phase %q", st.Phase)
	}
}

// roleThinking runs one generation turn for a role and routes on the
// resulting control signal.
func (e *Engine) roleThinking(ctx context.Context, st *session.State, role *roles.Controller) ([]events.Event, error) {
	isWriter := role == e.writer

	sig, err := role.Step(ctx, st)
	if err != nil {
		return nil, err
	}

	var evs []events.Event
	node := NodeCritic
	if isWriter {
		node = NodeWriter
	}
	evs = append(evs, events.Event{
		ThreadID: st.ThreadID,
		Node:     node,
		Type:     events.TypeMessage,
		Content:  lastTurnSummary(e.roleHistory(st, isWriter)),
		At:       time.Now(),
	})

	if sig == roles.SignalToolRequested {
		if isWriter {
			st.Phase = session.PhaseWriterToolCall
		} else {
			st.Phase = session.PhaseCriticToolCall
		}
		return evs, nil
	}

	// TextProduced
	if isWriter {
		// A fresh writer output starts a fresh verification budget.
		st.Phase = session.PhaseCriticThinking
		st.CriticToolBudgetUsed = 0
		evs = append(evs, events.Event{
			ThreadID: st.ThreadID,
			Node:     NodeWriter,
			Type:     events.TypeDraft,
			Content:  st.CurrentDraft,
			At:       time.Now(),
		})
		return evs, nil
	}

	evs = append(evs, events.Event{
		ThreadID: st.ThreadID,
		Node:     NodeCritic,
		Type:     events.TypeScore,
		Score:    st.Score,
		At:       time.Now(),
	})
	if st.Score >= PassThreshold || st.IterationCount >= MaxIterations {
		st.Phase = session.PhaseTerminal
		e.logger.Info("session terminal",
			zap.String("thread_id", st.ThreadID),
			zap.Int("score", st.Score),
			zap.Int("iterations", st.IterationCount),
		)
	} else {
		st.Phase = session.PhaseAdvancing
	}
	return evs, nil
}

// roleToolCall invokes the pending tool batch for a role and returns
// control to the role's thinking state. The role's tool counter advances
// by exactly one per tool-requesting turn, regardless of how many calls
// that turn batched.
func (e *Engine) roleToolCall(ctx context.Context, st *session.State, role *roles.Controller) ([]events.Event, error) {
	isWriter := role == e.writer
	node := NodeCriticTools
	returnPhase := session.PhaseCriticThinking
	if isWriter {
		node = NodeWriterTools
		returnPhase = session.PhaseWriterThinking
	}

	calls := pendingToolCalls(e.roleHistory(st, isWriter))
	ev := events.Event{
		ThreadID: st.ThreadID,
		Node:     node,
		Type:     events.TypeMessage,
		At:       time.Now(),
	}

	switch {
	case len(calls) == 0:
		// Malformed-output path: the controller already appended its
		// corrective notice; there is nothing to execute.
		ev.Content = "no executable tool call"
	case e.roleBudgetUsed(st, isWriter) >= roles.BudgetMax:
		// Fail-safe: a request that arrives with the budget already spent
		// gets error results instead of execution.
		for _, call := range calls {
			e.appendRole(st, isWriter, session.Message{
				Role:       session.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    "ERROR: the tool-call limit for this cycle has been reached. Stop searching and produce your final output.",
			})
		}
		ev.Content = "tool budget exhausted, returned error results"
	default:
		results := e.gateway.Invoke(ctx, calls)
		e.appendRole(st, isWriter, results...)
		e.incrementBudget(st, isWriter)
		ev.Content = "executed tools: " + strings.Join(callNames(calls), ", ")
	}

	st.Phase = returnPhase
	return []events.Event{ev}, nil
}

// advance completes an iteration: bump the cycle count and give both roles
// a fresh tool budget.
func (e *Engine) advance(st *session.State) []events.Event {
	st.IterationCount++
	st.WriterToolBudgetUsed = 0
	st.CriticToolBudgetUsed = 0
	st.Phase = session.PhaseWriterThinking

	e.logger.Info("advancing to next iteration",
		zap.String("thread_id", st.ThreadID),
		zap.Int("iteration", st.IterationCount),
	)
	return []events.Event{{
		ThreadID: st.ThreadID,
		Node:     NodeAdvance,
		Type:     events.TypeMessage,
		Content:  fmt.Sprintf("iteration %d: revising draft with critic feedback", st.IterationCount),
		At:       time.Now(),
	}}
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	// Best-effort: a lost event must never fail a step.
	if err := e.pub.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Debug("event publish failed", zap.Error(err))
	}
}

// state accessors, switched on role

func (e *Engine) roleHistory(st *session.State, isWriter bool) []session.Message {
	if isWriter {
		return st.WriterHistory
	}
	return st.CriticHistory
}

func (e *Engine) appendRole(st *session.State, isWriter bool, msgs ...session.Message) {
	if isWriter {
		st.AppendWriter(msgs...)
		return
	}
	st.AppendCritic(msgs...)
}

func (e *Engine) roleBudgetUsed(st *session.State, isWriter bool) int {
	if isWriter {
		return st.WriterToolBudgetUsed
	}
	return st.CriticToolBudgetUsed
}

func (e *Engine) incrementBudget(st *session.State, isWriter bool) {
	if isWriter {
		st.WriterToolBudgetUsed++
		return
	}
	st.CriticToolBudgetUsed++
}

// pendingToolCalls returns the tool calls of the most recent assistant
// message, if that message requested any.
func pendingToolCalls(hist []session.Message) []session.ToolCall {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role == session.RoleAssistant {
			return hist[i].ToolCalls
		}
		// Anything after the last assistant message means its calls were
		// already answered.
		if hist[i].Role == session.RoleTool {
			return nil
		}
	}
	return nil
}

func callNames(calls []session.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

// lastTurnSummary renders the newest history entry for step events.
func lastTurnSummary(hist []session.Message) string {
	if len(hist) == 0 {
		return ""
	}
	last := hist[len(hist)-1]
	if last.Role == session.RoleAssistant && len(last.ToolCalls) > 0 {
		return "calling tools: " + strings.Join(callNames(last.ToolCalls), ", ")
	}
	return last.Content
}
