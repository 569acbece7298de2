package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeTool is a configurable tool for executor tests.
type fakeTool struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (Result, error)
}

func (t *fakeTool) Name() string               { return t.name }
func (t *fakeTool) Description() string        { return "test tool" }
func (t *fakeTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *fakeTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	return t.fn(ctx, params)
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())

	res := e.Execute(context.Background(), "no_such_tool", nil)
	if res.ErrorKind != ErrKindUnknownTool {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, ErrKindUnknownTool)
	}
	if !res.IsError() {
		t.Error("IsError() = false")
	}
}

func TestExecuteClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"argument error", argErrorf("bad coordinate"), ErrKindInvalidArguments},
		{"display down", ErrDisplayUnavailable, ErrKindDisplayUnavailable},
		{"deadline", context.DeadlineExceeded, ErrKindToolTimeout},
		{"wrapped deadline", errors.Join(errors.New("partial"), context.DeadlineExceeded), ErrKindToolTimeout},
		{"plain failure", errors.New("xdotool exploded"), ErrKindExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register(&fakeTool{name: "failing", fn: func(ctx context.Context, _ map[string]any) (Result, error) {
				return Result{}, tt.err
			}})
			e := NewExecutor(reg)

			res := e.Execute(context.Background(), "failing", nil)
			if res.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, tt.wantKind)
			}
			if res.Error == "" {
				t.Error("Error message is empty")
			}
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "sleepy", fn: func(ctx context.Context, _ map[string]any) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}})
	e := NewExecutor(reg)
	e.SetTimeout("sleepy", 20*time.Millisecond)

	res := e.Execute(context.Background(), "sleepy", nil)
	if res.ErrorKind != ErrKindToolTimeout {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, ErrKindToolTimeout)
	}
}

func TestExecuteSurvivesCallerCancellation(t *testing.T) {
	// A cancelled caller must not interrupt a tool that is already running;
	// the tool finishes under its own timeout.
	started := make(chan struct{})
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "steady", fn: func(ctx context.Context, _ map[string]any) (Result, error) {
		close(started)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return Result{Text: "finished"}, nil
		}
	}})
	e := NewExecutor(reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := e.Execute(ctx, "steady", nil)
	if res.IsError() {
		t.Fatalf("tool was interrupted: %s %s", res.ErrorKind, res.Error)
	}
	if res.Output != "finished" {
		t.Errorf("Output = %q, want %q", res.Output, "finished")
	}
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "ok", fn: func(ctx context.Context, _ map[string]any) (Result, error) {
		return Result{Text: "done", Base64Image: "aW1n"}, nil
	}})
	e := NewExecutor(reg)

	res := e.Execute(context.Background(), "ok", nil)
	if res.IsError() {
		t.Fatalf("unexpected error: %s %s", res.ErrorKind, res.Error)
	}
	if res.Output != "done" || res.Base64Image != "aW1n" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name string
		res  ToolResult
		want string
	}{
		{"output", ToolResult{Output: "hello"}, "hello"},
		{"error wins", ToolResult{Output: "x", ErrorKind: ErrKindExecutionFailed, Error: "boom"}, "boom"},
		{"image only", ToolResult{Base64Image: "aW1n"}, "(screenshot taken)"},
	}
	for _, tt := range tests {
		if got := tt.res.Text(); got != tt.want {
			t.Errorf("%s: Text() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"computer", "bash", "str_replace_editor"} {
		reg.Register(&fakeTool{name: name})
	}
	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	for i, want := range []string{"computer", "bash", "str_replace_editor"} {
		if list[i].Name() != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Name(), want)
		}
	}
}
