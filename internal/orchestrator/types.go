package orchestrator

// Policy constants. Fixed by design, not configuration.
const (
	// MaxIterations caps completed writer→critic cycles.
	MaxIterations = 2

	// PassThreshold is the critique score at which the loop terminates.
	PassThreshold = 8

	// maxStepsPerRun bounds a single synchronous run against provider
	// pathologies (e.g. endless malformed output) that the tool budgets
	// do not count.
	maxStepsPerRun = 80
)

// Node names reported in step events.
const (
	NodeWriter      = "writer"
	NodeCritic      = "critic"
	NodeWriterTools = "tools_writer"
	NodeCriticTools = "tools_critic"
	NodeAdvance     = "advance"
	NodeSystem      = "system"
)

// Result is the final outcome of a run.
type Result struct {
	ThreadID   string `json:"thread_id"`
	Draft      string `json:"current_draft"`
	Score      int    `json:"score"`
	Iterations int    `json:"iterations"`
}
