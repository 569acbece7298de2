package tools

import (
	"context"
	"errors"
	"testing"
)

type fakeDisplay struct {
	ready bool
	name  string
}

func (d *fakeDisplay) Ready() bool         { return d.ready }
func (d *fakeDisplay) DisplayName() string { return d.name }

func TestComputerDisplayUnavailable(t *testing.T) {
	tool := NewComputerTool(&fakeDisplay{ready: false, name: ":1"})

	_, err := tool.Execute(context.Background(), map[string]any{"action": "screenshot"})
	if !errors.Is(err, ErrDisplayUnavailable) {
		t.Errorf("expected ErrDisplayUnavailable, got %v", err)
	}
}

func TestComputerArgumentValidation(t *testing.T) {
	tool := NewComputerTool(&fakeDisplay{ready: true, name: ":1"})

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing action", map[string]any{}},
		{"unknown action", map[string]any{"action": "teleport"}},
		{"mouse_move without coordinate", map[string]any{"action": "mouse_move"}},
		{"bad coordinate shape", map[string]any{"action": "mouse_move", "coordinate": []any{float64(1)}}},
		{"non-numeric coordinate", map[string]any{"action": "mouse_move", "coordinate": []any{"a", "b"}}},
		{"negative coordinate", map[string]any{"action": "mouse_move", "coordinate": []any{float64(-5), float64(3)}}},
		{"key without text", map[string]any{"action": "key"}},
		{"type without text", map[string]any{"action": "type"}},
		{"bad scroll direction", map[string]any{"action": "scroll", "scroll_direction": "sideways"}},
		{"scroll amount too big", map[string]any{"action": "scroll", "scroll_amount": float64(500)}},
		{"wait too long", map[string]any{"action": "wait", "duration": float64(60)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), tt.params)
			var argErr *ArgError
			if !errors.As(err, &argErr) {
				t.Errorf("expected *ArgError, got %v", err)
			}
		})
	}
}

func TestCoordinateParsing(t *testing.T) {
	x, y, err := coordinate(map[string]any{"coordinate": []any{float64(100), float64(250)}})
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if x != 100 || y != 250 {
		t.Errorf("got (%d, %d)", x, y)
	}
}
