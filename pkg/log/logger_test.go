package log

import (
	"testing"
	"time"
)

func TestNoopLoggerAcceptsEveryPayload(t *testing.T) {
	var logger NoopLogger

	event := Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Layer:        LayerTransport,
	}
	logger.Log(event)

	for _, ev := range []Event{
		{Frame: &FrameEvent{Size: 512, Data: []byte{1, 2, 3}}},
		{Exchange: &ExchangeEvent{Opcode: "INFO"}},
		{StateChange: &StateChangeEvent{Entity: StateEntityConnection, NewState: "ATTACHED"}},
		{Liveness: &LivenessEvent{Kind: "exchange"}},
		{Error: &ErrorEventData{Message: "link lost"}},
	} {
		logger.Log(ev)
	}
}

func TestLoggerFunc(t *testing.T) {
	var got []string
	l := LoggerFunc(func(ev Event) { got = append(got, ev.ConnectionID) })

	l.Log(Event{ConnectionID: "a"})
	l.Log(Event{ConnectionID: "b"})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name   string
		logger Logger
		want   bool
	}{
		{"nil", nil, false},
		{"noop", NoopLogger{}, false},
		{"noop pointer", &NoopLogger{}, false},
		{"func", LoggerFunc(func(Event) {}), true},
		{"multi", NewMultiLogger(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Enabled(tt.logger); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
