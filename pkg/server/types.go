package server

// ResearchRequest starts or resumes a research run.
type ResearchRequest struct {
	// Topic is the research subject. Required for new threads.
	Topic string `json:"topic"`

	// ThreadID resumes an existing session when set; otherwise the server
	// assigns a fresh one.
	ThreadID string `json:"thread_id,omitempty"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the JSON body for request failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
