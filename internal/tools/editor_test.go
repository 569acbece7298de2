package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func editorFixture(t *testing.T, content string) (*EditorTool, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	return NewEditorTool(dir), path
}

func wantArgError(t *testing.T, err error, context string) {
	t.Helper()
	var argErr *ArgError
	if !errors.As(err, &argErr) {
		t.Errorf("%s: expected *ArgError, got %v", context, err)
	}
}

func TestEditorCreateAndView(t *testing.T) {
	tool, path := editorFixture(t, "")

	res, err := tool.Execute(context.Background(), map[string]any{
		"command": "create", "path": path, "file_text": "alpha\nbeta\ngamma",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(res.Text, path) {
		t.Errorf("create output = %q", res.Text)
	}

	res, err = tool.Execute(context.Background(), map[string]any{
		"command": "view", "path": path,
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !strings.Contains(res.Text, "1\talpha") || !strings.Contains(res.Text, "3\tgamma") {
		t.Errorf("view output = %q", res.Text)
	}
}

func TestEditorCreateExisting(t *testing.T) {
	tool, path := editorFixture(t, "already here")

	_, err := tool.Execute(context.Background(), map[string]any{
		"command": "create", "path": path, "file_text": "new",
	})
	wantArgError(t, err, "create over existing file")
}

func TestEditorViewRange(t *testing.T) {
	tool, path := editorFixture(t, "l1\nl2\nl3\nl4\nl5")

	res, err := tool.Execute(context.Background(), map[string]any{
		"command": "view", "path": path, "view_range": []any{float64(2), float64(4)},
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if strings.Contains(res.Text, "l1") || !strings.Contains(res.Text, "l2") || !strings.Contains(res.Text, "l4") || strings.Contains(res.Text, "l5") {
		t.Errorf("view range output = %q", res.Text)
	}

	_, err = tool.Execute(context.Background(), map[string]any{
		"command": "view", "path": path, "view_range": []any{float64(0), float64(4)},
	})
	wantArgError(t, err, "out of bounds start")
}

func TestEditorStrReplace(t *testing.T) {
	tool, path := editorFixture(t, "the quick brown fox")

	if _, err := tool.Execute(context.Background(), map[string]any{
		"command": "str_replace", "path": path, "old_str": "quick", "new_str": "slow",
	}); err != nil {
		t.Fatalf("str_replace: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "the slow brown fox" {
		t.Errorf("file = %q", data)
	}
}

func TestEditorStrReplaceUniqueness(t *testing.T) {
	tool, path := editorFixture(t, "dup\ndup\n")

	_, err := tool.Execute(context.Background(), map[string]any{
		"command": "str_replace", "path": path, "old_str": "dup", "new_str": "x",
	})
	wantArgError(t, err, "ambiguous old_str")

	_, err = tool.Execute(context.Background(), map[string]any{
		"command": "str_replace", "path": path, "old_str": "missing", "new_str": "x",
	})
	wantArgError(t, err, "absent old_str")
}

func TestEditorInsert(t *testing.T) {
	tool, path := editorFixture(t, "one\nthree")

	if _, err := tool.Execute(context.Background(), map[string]any{
		"command": "insert", "path": path, "insert_line": 1, "new_str": "two",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "one\ntwo\nthree" {
		t.Errorf("file = %q", data)
	}
}

func TestEditorPathConfinement(t *testing.T) {
	tool, _ := editorFixture(t, "")

	_, err := tool.Execute(context.Background(), map[string]any{
		"command": "view", "path": "/etc/passwd",
	})
	wantArgError(t, err, "path outside root")

	_, err = tool.Execute(context.Background(), map[string]any{
		"command": "view", "path": "relative/path",
	})
	wantArgError(t, err, "relative path")
}
