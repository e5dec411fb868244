// Package apptypes defines the error taxonomy shared by the supervisor and
// MCP control planes: a single typed Error carrying a stable Kind code,
// a human message, and an optional wrapped cause.
package apptypes

import "fmt"

// Kind enumerates the stable error codes surfaced to control-plane callers.
type Kind string

const (
	KindBinaryNotFound                Kind = "BINARY_NOT_FOUND"
	KindModelFileNotFound             Kind = "MODEL_FILE_NOT_FOUND"
	KindLibraryPathInvalid            Kind = "LIBRARY_PATH_INVALID"
	KindModelLoadFailed               Kind = "MODEL_LOAD_FAILED"
	KindDraftModelLoadFailed          Kind = "DRAFT_MODEL_LOAD_FAILED"
	KindMultimodalProjectorLoadFailed Kind = "MULTIMODAL_PROJECTOR_LOAD_FAILED"
	KindModelArchNotSupported         Kind = "MODEL_ARCH_NOT_SUPPORTED"
	KindModelLoadTimedOut             Kind = "MODEL_LOAD_TIMED_OUT"
	KindOutOfMemory                   Kind = "OUT_OF_MEMORY"
	KindLlamaCppProcessError          Kind = "LLAMA_CPP_PROCESS_ERROR"
	KindDeviceListParseFailed         Kind = "DEVICE_LIST_PARSE_FAILED"
	KindIOError                       Kind = "IO_ERROR"
	KindInternalError                 Kind = "INTERNAL_ERROR"

	// MCP-specific kinds.
	KindMCPAlreadyActive  Kind = "MCP_ALREADY_ACTIVE"
	KindMCPNeverConnected Kind = "MCP_NEVER_CONNECTED"
	KindMCPTransportError Kind = "MCP_TRANSPORT_ERROR"
	KindMCPToolNotFound   Kind = "MCP_TOOL_NOT_FOUND"
	KindMCPCallTimedOut   Kind = "MCP_CALL_TIMED_OUT"
	KindMCPCallCancelled  Kind = "MCP_CALL_CANCELLED"
)

// Error is the single typed error used across the supervisor and MCP
// control planes. It always carries a stable Kind for client surfacing and
// wraps the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error that wraps cause, defaulting Message to cause's
// text when message is empty.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails returns a copy of e carrying additional free-form details
// (e.g. the accumulated stderr blob for a classified startup failure).
func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Code returns the stable string code used for client surfacing.
func (e *Error) Code() string {
	return string(e.Kind)
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Kind, so errors.Is(err, apptypes.New(KindX, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
