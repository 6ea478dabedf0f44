package log

// MultiLogger fans an event out to several loggers, in order. The usual
// pairing is a SlogAdapter for the console next to a FileLogger keeping
// the .tlog trace.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger wraps the given loggers. Nil entries are dropped at
// construction rather than checked on every event.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &MultiLogger{loggers: kept}
}

func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
