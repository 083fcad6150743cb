// Package llm wraps the text-generation provider behind a small Client
// interface.
//
// The implementation talks to any OpenAI-compatible chat-completion endpoint
// through langchaingo. Provider failure modes are normalized into three
// sentinel errors so the role controllers can apply their recovery policies
// without knowing provider specifics:
//
//   - ErrProviderUnavailable: transport or provider outage, fatal upstream.
//   - ErrContentPolicy: safety-filter refusal, recoverable once by the caller.
//   - ErrMalformedResponse: neither structured tool calls nor usable text,
//     including raw protocol leakage detected by the configured LeakDetector.
package llm
