package log

// MultiLogger fans each event out to several loggers in order.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil and no-op entries are dropped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if Enabled(l) {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log forwards the event to every logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Len returns the number of loggers events are forwarded to.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

// Combine returns a Logger forwarding to every enabled entry. It returns
// nil when no entry is enabled and the entry itself when only one is, so
// callers that skip event construction on a nil logger stay cheap.
func Combine(loggers ...Logger) Logger {
	m := NewMultiLogger(loggers...)
	switch len(m.loggers) {
	case 0:
		return nil
	case 1:
		return m.loggers[0]
	}
	return m
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
