package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	editorMaxResponse = 16000
	editorTruncated   = "\n<response clipped>"
)

// EditorTool implements the str_replace_editor file editing commands:
// view, create, str_replace and insert.
type EditorTool struct {
	// Root, when set, confines all paths to this directory tree.
	Root string
}

// NewEditorTool creates the editor tool. root may be empty for no confinement.
func NewEditorTool(root string) *EditorTool {
	return &EditorTool{Root: root}
}

func (t *EditorTool) Name() string { return "str_replace_editor" }

func (t *EditorTool) Description() string {
	return "View, create and edit files. Commands: view, create, str_replace, insert."
}

func (t *EditorTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"enum":        []string{"view", "create", "str_replace", "insert"},
				"description": "The editing command to run",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file or directory",
			},
			"file_text": map[string]any{
				"type":        "string",
				"description": "Content for the create command",
			},
			"old_str": map[string]any{
				"type":        "string",
				"description": "Exact text to replace; must occur exactly once in the file",
			},
			"new_str": map[string]any{
				"type":        "string",
				"description": "Replacement text for str_replace, or the text to insert",
			},
			"insert_line": map[string]any{
				"type":        "integer",
				"description": "Line number after which to insert (0 inserts at the top)",
			},
			"view_range": map[string]any{
				"type":        "array",
				"description": "[start, end] line range for view; end of -1 means end of file",
			},
		},
		"required": []string{"command", "path"},
	}
}

func (t *EditorTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	command := GetString(params, "command", "")
	path := GetString(params, "path", "")
	if command == "" {
		return Result{}, argErrorf("str_replace_editor: command is required")
	}
	if err := t.checkPath(path); err != nil {
		return Result{}, err
	}

	switch command {
	case "view":
		return t.view(path, params)
	case "create":
		return t.create(path, params)
	case "str_replace":
		return t.strReplace(path, params)
	case "insert":
		return t.insert(path, params)
	default:
		return Result{}, argErrorf("str_replace_editor: unknown command %q", command)
	}
}

func (t *EditorTool) checkPath(path string) error {
	if path == "" {
		return argErrorf("str_replace_editor: path is required")
	}
	if !filepath.IsAbs(path) {
		return argErrorf("str_replace_editor: path must be absolute, got %q", path)
	}
	if t.Root != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return argErrorf("str_replace_editor: invalid path %q", path)
		}
		if abs != t.Root && !strings.HasPrefix(abs, t.Root+string(filepath.Separator)) {
			return argErrorf("str_replace_editor: path outside workspace")
		}
	}
	return nil
}

func (t *EditorTool) view(path string, params map[string]any) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, argErrorf("str_replace_editor: %s does not exist", path)
	}
	if info.IsDir() {
		return t.viewDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("str_replace_editor: read %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")

	start, end := 1, len(lines)
	if raw, ok := params["view_range"].([]any); ok {
		if len(raw) != 2 {
			return Result{}, argErrorf("str_replace_editor: view_range must be [start, end]")
		}
		start = GetInt(map[string]any{"v": raw[0]}, "v", 1)
		end = GetInt(map[string]any{"v": raw[1]}, "v", -1)
		if start < 1 || start > len(lines) {
			return Result{}, argErrorf("str_replace_editor: view_range start %d out of bounds [1, %d]", start, len(lines))
		}
		if end == -1 {
			end = len(lines)
		}
		if end < start || end > len(lines) {
			return Result{}, argErrorf("str_replace_editor: view_range end %d out of bounds [%d, %d]", end, start, len(lines))
		}
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i, lines[i-1])
	}
	return Result{Text: clip(b.String())}, nil
}

func (t *EditorTool) viewDir(path string) (Result, error) {
	var entries []string
	root := filepath.Clean(path)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if p != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if rel == "." {
			return nil
		}
		// Two levels deep, like ls on the directory and its children.
		if strings.Count(rel, string(filepath.Separator)) >= 2 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("str_replace_editor: list %s: %w", path, err)
	}
	return Result{Text: clip(fmt.Sprintf("Files and directories up to 2 levels deep in %s:\n%s", path, strings.Join(entries, "\n")))}, nil
}

func (t *EditorTool) create(path string, params map[string]any) (Result, error) {
	fileText, ok := params["file_text"].(string)
	if !ok {
		return Result{}, argErrorf("str_replace_editor: create requires file_text")
	}
	if _, err := os.Stat(path); err == nil {
		return Result{}, argErrorf("str_replace_editor: %s already exists; use str_replace to edit it", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("str_replace_editor: create parent dirs: %w", err)
	}
	if err := os.WriteFile(path, []byte(fileText), 0o644); err != nil {
		return Result{}, fmt.Errorf("str_replace_editor: write %s: %w", path, err)
	}
	return Result{Text: fmt.Sprintf("File created successfully at: %s", path)}, nil
}

func (t *EditorTool) strReplace(path string, params map[string]any) (Result, error) {
	oldStr, ok := params["old_str"].(string)
	if !ok || oldStr == "" {
		return Result{}, argErrorf("str_replace_editor: str_replace requires old_str")
	}
	newStr := GetString(params, "new_str", "")

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, argErrorf("str_replace_editor: %s does not exist", path)
	}
	content := string(data)

	switch n := strings.Count(content, oldStr); n {
	case 0:
		return Result{}, argErrorf("str_replace_editor: old_str not found in %s", path)
	case 1:
	default:
		return Result{}, argErrorf("str_replace_editor: old_str occurs %d times in %s; it must be unique", n, path)
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return Result{}, fmt.Errorf("str_replace_editor: write %s: %w", path, err)
	}

	line := strings.Count(content[:strings.Index(content, oldStr)], "\n") + 1
	return Result{Text: clip(fmt.Sprintf("Replaced text at line %d in %s:\n%s", line, path, snippet(updated, line)))}, nil
}

func (t *EditorTool) insert(path string, params map[string]any) (Result, error) {
	newStr, ok := params["new_str"].(string)
	if !ok {
		return Result{}, argErrorf("str_replace_editor: insert requires new_str")
	}
	insertLine := GetInt(params, "insert_line", -1)
	if insertLine < 0 {
		return Result{}, argErrorf("str_replace_editor: insert requires insert_line")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, argErrorf("str_replace_editor: %s does not exist", path)
	}
	lines := strings.Split(string(data), "\n")
	if insertLine > len(lines) {
		return Result{}, argErrorf("str_replace_editor: insert_line %d out of bounds [0, %d]", insertLine, len(lines))
	}

	inserted := strings.Split(newStr, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:insertLine]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[insertLine:]...)

	if err := os.WriteFile(path, []byte(strings.Join(updated, "\n")), 0o644); err != nil {
		return Result{}, fmt.Errorf("str_replace_editor: write %s: %w", path, err)
	}
	return Result{Text: clip(fmt.Sprintf("Inserted %d line(s) after line %d in %s:\n%s",
		len(inserted), insertLine, path, snippet(strings.Join(updated, "\n"), insertLine+1)))}, nil
}

// snippet renders a few numbered lines around line for edit confirmations.
func snippet(content string, line int) string {
	lines := strings.Split(content, "\n")
	start := line - 4
	if start < 1 {
		start = 1
	}
	end := line + 4
	if end > len(lines) {
		end = len(lines)
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i, lines[i-1])
	}
	return b.String()
}

func clip(s string) string {
	if len(s) > editorMaxResponse {
		return s[:editorMaxResponse] + editorTruncated
	}
	return s
}
