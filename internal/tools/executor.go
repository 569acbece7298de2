package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tool error kinds, surfaced to the model in tool_result blocks and to
// event subscribers.
const (
	ErrKindUnknownTool        = "unknown_tool"
	ErrKindInvalidArguments   = "invalid_arguments"
	ErrKindToolTimeout        = "tool_timeout"
	ErrKindDisplayUnavailable = "display_unavailable"
	ErrKindExecutionFailed    = "execution_failed"
)

// ToolResult is the classified outcome of a tool execution. A tool error is
// data, not a loop failure: it goes back to the model as an error-flagged
// tool_result and the conversation continues.
type ToolResult struct {
	Output      string `json:"output,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// IsError reports whether the execution failed.
func (r ToolResult) IsError() bool { return r.ErrorKind != "" }

// Text renders the result for the model: the error message for failures,
// otherwise the output.
func (r ToolResult) Text() string {
	if r.IsError() {
		return r.Error
	}
	if r.Output == "" && r.Base64Image != "" {
		return "(screenshot taken)"
	}
	return r.Output
}

// Per-class execution deadlines.
const (
	computerTimeout = 30 * time.Second
	commandTimeout  = 120 * time.Second
)

// Executor runs registered tools with per-class timeouts and classifies
// failures into error kinds.
type Executor struct {
	registry *Registry
	timeouts map[string]time.Duration
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		timeouts: map[string]time.Duration{
			"computer":           computerTimeout,
			"bash":               commandTimeout,
			"str_replace_editor": commandTimeout,
		},
	}
}

// Registry returns the underlying tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// SetTimeout overrides the execution deadline for a tool.
func (e *Executor) SetTimeout(name string, d time.Duration) {
	e.timeouts[name] = d
}

// Execute runs a tool by name. It never returns a Go error: every failure
// is folded into the ToolResult's error kind.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) ToolResult {
	tool, ok := e.registry.Get(name)
	if !ok {
		return ToolResult{
			ErrorKind: ErrKindUnknownTool,
			Error:     fmt.Sprintf("unknown tool: %s", name),
		}
	}

	timeout, ok := e.timeouts[name]
	if !ok {
		timeout = 60 * time.Second
	}
	// Cancellation is cooperative and observed between tool calls, never
	// during one: an in-flight tool runs to completion or its own timeout,
	// so the display is never left mid-action.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	res, err := tool.Execute(ctx, params)
	if err != nil {
		return classify(name, res, err, timeout)
	}
	return ToolResult{Output: res.Text, Base64Image: res.Base64Image}
}

func classify(name string, res Result, err error, timeout time.Duration) ToolResult {
	out := ToolResult{Output: res.Text, Base64Image: res.Base64Image}
	var argErr *ArgError
	switch {
	case errors.Is(err, ErrDisplayUnavailable):
		out.ErrorKind = ErrKindDisplayUnavailable
		out.Error = fmt.Sprintf("%s: display is not running", name)
	case errors.As(err, &argErr):
		out.ErrorKind = ErrKindInvalidArguments
		out.Error = argErr.Msg
	case errors.Is(err, context.DeadlineExceeded):
		out.ErrorKind = ErrKindToolTimeout
		out.Error = fmt.Sprintf("%s: timed out after %v", name, timeout)
	default:
		out.ErrorKind = ErrKindExecutionFailed
		out.Error = fmt.Sprintf("%s: %v", name, err)
	}
	return out
}
