package domain

import (
	"fmt"
	"time"
)

// FunctionLanguage identifies the language of an offloaded function body.
type FunctionLanguage string

const (
	LangPY FunctionLanguage = "PY"
	LangC  FunctionLanguage = "C"
)

func (l FunctionLanguage) IsValid() bool {
	return l == LangPY || l == LangC
}

// ExecutionMode selects how the caller receives the result.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// RetCode is the outcome channel of an offloaded execution.
type RetCode string

const (
	RetSuccess RetCode = "SUCCESS"
	RetError   RetCode = "ERROR"
)

// FaasFunction is a function registered for offloading. Go cannot serialize
// a live callable, so callers provide the compiled body up front; the
// device runtime fingerprints the serialized payload and uploads it to the
// fabric's content store at most once.
type FaasFunction struct {
	Name    string
	Lang    FunctionLanguage
	Payload []byte
}

func (f *FaasFunction) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: function not provided", ErrValidation)
	}
	if !f.Lang.IsValid() {
		return fmt.Errorf("%w: unsupported function language %q", ErrValidation, f.Lang)
	}
	if len(f.Payload) == 0 {
		return fmt.Errorf("%w: function payload is empty", ErrValidation)
	}
	return nil
}

// ExecResponse is what every offload delivers back to the application,
// whether the call succeeded, the transport failed, or the user function
// itself raised.
type ExecResponse struct {
	RetCode RetCode
	Result  any
	Err     string
}

// ErrorResponse packages a failure into the ExecResponse channel. The
// facade never surfaces raw errors for Call; everything funnels through
// here.
func ErrorResponse(format string, args ...any) *ExecResponse {
	return &ExecResponse{RetCode: RetError, Err: fmt.Sprintf(format, args...)}
}

// Call is one queued invocation. Immutable once enqueued.
type Call struct {
	RequestID string
	Function  *FaasFunction
	Mode      ExecutionMode
	Callback  func(*ExecResponse)
	Params    []any
	Timeout   time.Duration // zero means no per-call deadline
}

// ClusterCandidate is one Edge Cluster Frontend offered by the control
// plane for this application.
type ClusterCandidate struct {
	Name     string
	Endpoint string
}
