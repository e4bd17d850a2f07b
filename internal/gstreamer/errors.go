package gstreamer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailableStageKind is returned when the framework cannot
	// instantiate the requested element factory.
	ErrUnavailableStageKind = errors.New("gstreamer: stage kind unavailable")

	// ErrIncompatibleLink is returned when two elements cannot negotiate a
	// shared format at construction time.
	ErrIncompatibleLink = errors.New("gstreamer: incompatible link")

	// ErrGraphConstructionFailed wraps any failure while building a graph.
	ErrGraphConstructionFailed = errors.New("gstreamer: graph construction failed")

	// ErrPadAlreadyLinked is returned when the target sink pad is taken.
	ErrPadAlreadyLinked = errors.New("gstreamer: sink pad already linked")

	// ErrPipelineClosed is returned by operations on a closed pipeline.
	ErrPipelineClosed = errors.New("gstreamer: pipeline closed")

	// ErrUnknownStage is returned when a stage name is not in the graph.
	ErrUnknownStage = errors.New("gstreamer: unknown stage")

	// ErrWorkerRunning is returned by Start on a worker that is not idle.
	ErrWorkerRunning = errors.New("gstreamer: worker already running")
)

// GStreamerErrorType classifies a GStreamerError by the step that failed.
type GStreamerErrorType int

const (
	ErrorTypeUnknown GStreamerErrorType = iota
	ErrorTypeInitialization
	ErrorTypePipelineCreation
	ErrorTypePipelineState
	ErrorTypeElementCreation
	ErrorTypeElementLinking
	ErrorTypeElementProperty
)

var errorTypeNames = [...]string{
	ErrorTypeUnknown:          "Unknown",
	ErrorTypeInitialization:   "Initialization",
	ErrorTypePipelineCreation: "PipelineCreation",
	ErrorTypePipelineState:    "PipelineState",
	ErrorTypeElementCreation:  "ElementCreation",
	ErrorTypeElementLinking:   "ElementLinking",
	ErrorTypeElementProperty:  "ElementProperty",
}

func (t GStreamerErrorType) String() string {
	if t < 0 || int(t) >= len(errorTypeNames) {
		return errorTypeNames[ErrorTypeUnknown]
	}
	return errorTypeNames[t]
}

// GStreamerError is a framework failure annotated with where it happened.
// Element is empty for pipeline-level failures.
type GStreamerError struct {
	Type      GStreamerErrorType
	Component string
	Operation string
	Element   string
	Message   string
	Cause     error
}

func (e *GStreamerError) Error() string {
	where := e.Component
	if e.Element != "" {
		where += "/" + e.Element
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, where, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, where, e.Message)
}

func (e *GStreamerError) Unwrap() error {
	return e.Cause
}

// NewInitializationError reports a failure to bring the framework or the
// worker loop up.
func NewInitializationError(component, message string, cause error) *GStreamerError {
	return &GStreamerError{Type: ErrorTypeInitialization, Component: component, Message: message, Cause: cause}
}

// NewPipelineError reports a failure that concerns a whole pipeline.
func NewPipelineError(errorType GStreamerErrorType, component, operation, message string, cause error) *GStreamerError {
	return &GStreamerError{Type: errorType, Component: component, Operation: operation, Message: message, Cause: cause}
}

// NewElementError reports a failure on a single named element.
func NewElementError(errorType GStreamerErrorType, component, elementName, message string, cause error) *GStreamerError {
	return &GStreamerError{Type: errorType, Component: component, Element: elementName, Message: message, Cause: cause}
}

// GetGStreamerError returns the first GStreamerError in err's chain.
func GetGStreamerError(err error) (*GStreamerError, bool) {
	var gstErr *GStreamerError
	if errors.As(err, &gstErr) {
		return gstErr, true
	}
	return nil, false
}

// IsErrorType reports whether err carries a GStreamerError of the given type.
func IsErrorType(err error, errorType GStreamerErrorType) bool {
	gstErr, ok := GetGStreamerError(err)
	return ok && gstErr.Type == errorType
}
