package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DisplayConn is the view of the display supervisor the computer tool needs.
type DisplayConn interface {
	// Ready reports whether the virtual display is running.
	Ready() bool
	// DisplayName returns the X display to target, e.g. ":1".
	DisplayName() string
}

// ComputerTool drives the virtual display with xdotool and scrot.
type ComputerTool struct {
	display   DisplayConn
	typeDelay int // ms between keystrokes for the type action
}

// NewComputerTool creates the computer tool bound to a display supervisor.
func NewComputerTool(display DisplayConn) *ComputerTool {
	return &ComputerTool{display: display, typeDelay: 12}
}

func (t *ComputerTool) Name() string { return "computer" }

func (t *ComputerTool) Description() string {
	return "Control the virtual display: take screenshots, move and click the mouse, and type on the keyboard."
}

func (t *ComputerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					"screenshot", "cursor_position", "mouse_move",
					"left_click", "right_click", "middle_click", "double_click",
					"left_click_drag", "scroll", "key", "type", "wait",
				},
				"description": "The action to perform",
			},
			"coordinate": map[string]any{
				"type":        "array",
				"description": "[x, y] pixel coordinate for mouse actions",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text for the type action, or key combination for the key action (xdotool syntax, e.g. ctrl+s)",
			},
			"scroll_direction": map[string]any{
				"type":        "string",
				"enum":        []string{"up", "down", "left", "right"},
				"description": "Direction for the scroll action",
			},
			"scroll_amount": map[string]any{
				"type":        "integer",
				"description": "Number of scroll clicks",
			},
			"duration": map[string]any{
				"type":        "integer",
				"description": "Seconds to pause for the wait action",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ComputerTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	if t.display == nil || !t.display.Ready() {
		return Result{}, ErrDisplayUnavailable
	}
	action := GetString(params, "action", "")
	if action == "" {
		return Result{}, argErrorf("computer: action is required")
	}

	switch action {
	case "screenshot":
		return t.screenshot(ctx)

	case "cursor_position":
		return t.cursorPosition(ctx)

	case "mouse_move":
		x, y, err := coordinate(params)
		if err != nil {
			return Result{}, err
		}
		return t.xdotool(ctx, "mousemove", "--sync", itoa(x), itoa(y))

	case "left_click", "right_click", "middle_click":
		button := map[string]string{"left_click": "1", "middle_click": "2", "right_click": "3"}[action]
		if _, ok := params["coordinate"]; ok {
			x, y, err := coordinate(params)
			if err != nil {
				return Result{}, err
			}
			return t.xdotool(ctx, "mousemove", "--sync", itoa(x), itoa(y), "click", button)
		}
		return t.xdotool(ctx, "click", button)

	case "double_click":
		if _, ok := params["coordinate"]; ok {
			x, y, err := coordinate(params)
			if err != nil {
				return Result{}, err
			}
			return t.xdotool(ctx, "mousemove", "--sync", itoa(x), itoa(y), "click", "--repeat", "2", "--delay", "100", "1")
		}
		return t.xdotool(ctx, "click", "--repeat", "2", "--delay", "100", "1")

	case "left_click_drag":
		x, y, err := coordinate(params)
		if err != nil {
			return Result{}, err
		}
		return t.xdotool(ctx, "mousedown", "1", "mousemove", "--sync", itoa(x), itoa(y), "mouseup", "1")

	case "scroll":
		return t.scroll(ctx, params)

	case "key":
		text := GetString(params, "text", "")
		if text == "" {
			return Result{}, argErrorf("computer: key action requires text")
		}
		return t.xdotool(ctx, "key", "--", text)

	case "type":
		text := GetString(params, "text", "")
		if text == "" {
			return Result{}, argErrorf("computer: type action requires text")
		}
		return t.xdotool(ctx, "type", "--delay", itoa(t.typeDelay), "--", text)

	case "wait":
		seconds := GetInt(params, "duration", 1)
		if seconds < 0 || seconds > 10 {
			return Result{}, argErrorf("computer: wait duration must be between 0 and 10 seconds")
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(time.Duration(seconds) * time.Second):
		}
		return t.screenshot(ctx)

	default:
		return Result{}, argErrorf("computer: unknown action %q", action)
	}
}

func (t *ComputerTool) scroll(ctx context.Context, params map[string]any) (Result, error) {
	direction := GetString(params, "scroll_direction", "down")
	button, ok := map[string]string{"up": "4", "down": "5", "left": "6", "right": "7"}[direction]
	if !ok {
		return Result{}, argErrorf("computer: invalid scroll_direction %q", direction)
	}
	amount := GetInt(params, "scroll_amount", 3)
	if amount < 1 || amount > 50 {
		return Result{}, argErrorf("computer: scroll_amount must be between 1 and 50")
	}
	args := []string{}
	if _, hasCoord := params["coordinate"]; hasCoord {
		x, y, err := coordinate(params)
		if err != nil {
			return Result{}, err
		}
		args = append(args, "mousemove", "--sync", itoa(x), itoa(y))
	}
	args = append(args, "click", "--repeat", itoa(amount), button)
	return t.xdotool(ctx, args...)
}

// screenshot captures the full display with scrot and returns it base64
// encoded, followed by a note so text-only consumers see something.
func (t *ComputerTool) screenshot(ctx context.Context) (Result, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("deskclaw-shot-%d.png", time.Now().UnixNano()))
	defer os.Remove(path)

	if _, err := t.run(ctx, "scrot", "-o", path); err != nil {
		return Result{}, fmt.Errorf("screenshot: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("screenshot: read capture: %w", err)
	}
	return Result{Base64Image: base64.StdEncoding.EncodeToString(data)}, nil
}

func (t *ComputerTool) cursorPosition(ctx context.Context) (Result, error) {
	out, err := t.run(ctx, "xdotool", "getmouselocation")
	if err != nil {
		return Result{}, err
	}
	// Output shape: "x:512 y:384 screen:0 window:1234"
	var x, y int
	for _, field := range strings.Fields(out) {
		if v, ok := strings.CutPrefix(field, "x:"); ok {
			x, _ = strconv.Atoi(v)
		}
		if v, ok := strings.CutPrefix(field, "y:"); ok {
			y, _ = strconv.Atoi(v)
		}
	}
	return Result{Text: fmt.Sprintf("X=%d,Y=%d", x, y)}, nil
}

func (t *ComputerTool) xdotool(ctx context.Context, args ...string) (Result, error) {
	out, err := t.run(ctx, "xdotool", args...)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: out}, nil
}

func (t *ComputerTool) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+t.display.DisplayName())
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", context.DeadlineExceeded
	}
	if err != nil {
		return "", fmt.Errorf("%s: %v: %s", name, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// coordinate extracts the [x, y] pair from params.
func coordinate(params map[string]any) (int, int, error) {
	raw, ok := params["coordinate"]
	if !ok {
		return 0, 0, argErrorf("computer: coordinate is required for this action")
	}
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		return 0, 0, argErrorf("computer: coordinate must be [x, y]")
	}
	vals := [2]int{}
	for i, v := range list {
		switch n := v.(type) {
		case float64:
			vals[i] = int(n)
		case int:
			vals[i] = n
		default:
			return 0, 0, argErrorf("computer: coordinate values must be numbers")
		}
		if vals[i] < 0 {
			return 0, 0, argErrorf("computer: coordinate values must be non-negative")
		}
	}
	return vals[0], vals[1], nil
}

func itoa(n int) string { return strconv.Itoa(n) }
