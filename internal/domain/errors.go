package domain

import "errors"

// Error taxonomy of the device runtime. Callers match with errors.Is; the
// concrete messages are wrapped around these sentinels at the failure site.
var (
	// ErrConfig marks malformed or absent configuration. Fatal at
	// construction time.
	ErrConfig = errors.New("cognit: config error")

	// ErrValidation marks caller input that violates a documented
	// precondition. Returned directly, never retried.
	ErrValidation = errors.New("cognit: validation error")

	// ErrTransport marks an HTTP transport failure or an error response
	// from the fabric. The supervisor reacts through its guards: bounded
	// retry while the endpoint stays reachable, re-initialization once
	// the owning adapter drops its connection flag.
	ErrTransport = errors.New("cognit: transport error")

	// ErrAuth marks a 401/403 on an authenticated endpoint. Treated as
	// connection loss so the supervisor re-authenticates.
	ErrAuth = errors.New("cognit: authentication error")

	// ErrCapacity marks a full call queue. Surfaced synchronously;
	// nothing is enqueued.
	ErrCapacity = errors.New("cognit: call queue at capacity")

	// ErrExecution marks a failure inside the offloaded user function.
	// Delivered through ExecResponse, never retried by the runtime.
	ErrExecution = errors.New("cognit: function execution failed")
)
