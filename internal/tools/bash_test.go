package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestBashExecute(t *testing.T) {
	tool := NewBashTool(false, "")

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(res.Text) != "hello" {
		t.Errorf("output = %q", res.Text)
	}
}

func TestBashExitCode(t *testing.T) {
	tool := NewBashTool(false, "")

	res, err := tool.Execute(context.Background(), map[string]any{"command": "exit 3"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Text, "Exit code: 3") {
		t.Errorf("output = %q, want exit code marker", res.Text)
	}
}

func TestBashStderrCapture(t *testing.T) {
	tool := NewBashTool(false, "")

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo oops >&2"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Text, "STDERR:") || !strings.Contains(res.Text, "oops") {
		t.Errorf("output = %q", res.Text)
	}
}

func TestBashMissingCommand(t *testing.T) {
	tool := NewBashTool(false, "")

	_, err := tool.Execute(context.Background(), map[string]any{})
	var argErr *ArgError
	if !errors.As(err, &argErr) {
		t.Errorf("expected *ArgError, got %v", err)
	}
}

func TestBashDenyPatterns(t *testing.T) {
	tool := NewBashTool(false, "")

	blocked := []string{
		"rm -rf /",
		"rm -rf .",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sda1",
		"shutdown -h now",
		"reboot",
	}
	for _, cmd := range blocked {
		_, err := tool.Execute(context.Background(), map[string]any{"command": cmd})
		var argErr *ArgError
		if !errors.As(err, &argErr) {
			t.Errorf("command %q: expected *ArgError, got %v", cmd, err)
		}
	}
}

func TestBashWorkspaceRestriction(t *testing.T) {
	dir := t.TempDir()
	tool := NewBashTool(true, dir)

	if _, err := tool.Execute(context.Background(), map[string]any{
		"command": "pwd", "working_dir": dir,
	}); err != nil {
		t.Errorf("inside workspace: %v", err)
	}

	_, err := tool.Execute(context.Background(), map[string]any{
		"command": "pwd", "working_dir": "/etc",
	})
	var argErr *ArgError
	if !errors.As(err, &argErr) {
		t.Errorf("outside workspace: expected *ArgError, got %v", err)
	}

	_, err = tool.Execute(context.Background(), map[string]any{
		"command": "cat ../../etc/passwd",
	})
	if !errors.As(err, &argErr) {
		t.Errorf("traversal: expected *ArgError, got %v", err)
	}
}
