package log

// Logger receives capture events. Implementations must be safe for
// concurrent use and must not block: transports log from their read path.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts an ordinary function to the Logger interface.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Enabled reports whether l records anything at all.
func Enabled(l Logger) bool {
	if l == nil {
		return false
	}
	switch l.(type) {
	case NoopLogger, *NoopLogger:
		return false
	}
	return true
}

// Compile-time interface satisfaction check.
var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
)
