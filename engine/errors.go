package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateTool is returned when registering a tool name twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnknownTool is returned when a node references an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrGraphNotFound is returned when a graph id is not known.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrNoMatchingTransition is returned when no condition matched and the
	// node has no default route.
	ErrNoMatchingTransition = errors.New("no matching transition")
)

// ToolExecutionError wraps a failure raised by a tool implementation or by
// the contract checks around it. It ends the run as failed unless the node
// declares an error route.
type ToolExecutionError struct {
	// Tool is the registered tool name.
	Tool string
	// Err is the underlying failure.
	Err error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// GraphValidationError reports every violation found in a graph definition.
// It is surfaced synchronously at creation time, before any run starts.
type GraphValidationError struct {
	Violations []string
}

func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("invalid graph: %s", strings.Join(e.Violations, "; "))
}
