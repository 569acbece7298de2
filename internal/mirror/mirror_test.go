package mirror

import (
	"testing"

	"github.com/DeskClaw/DeskClaw/internal/bus"
)

func TestDisabledMirrorIsNil(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enabled: false, Brokers: "localhost:9092", Topic: "events"}},
		{"no brokers", Config{Enabled: true, Topic: "events"}},
		{"no topic", Config{Enabled: true, Brokers: "localhost:9092"}},
	}
	for _, tt := range tests {
		if m := New(tt.cfg, nil); m != nil {
			t.Errorf("%s: expected nil mirror", tt.name)
		}
	}
}

func TestNilMirrorIsSafe(t *testing.T) {
	var m *Mirror
	if m.Active() {
		t.Error("nil mirror reports active")
	}
	m.PublishEvent(bus.Event{SessionID: "s", Type: bus.EventTurnComplete})
	m.Close()
}
