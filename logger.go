package datacache

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is the leveled logger every datastore writes to. Adapters for
// logrus, zap and slog live under log/. A nil Logger in Options disables
// logging.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// storeLogger stamps every entry with the datastore name.
type storeLogger struct {
	l     Logger
	store string
}

func withStore(l Logger, store string) Logger {
	if _, nop := l.(NopLogger); nop {
		return l
	}
	return storeLogger{l: l, store: store}
}

func (s storeLogger) stamp(f Fields) Fields {
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["store"] = s.store
	return out
}

func (s storeLogger) Debug(msg string, f Fields) { s.l.Debug(msg, s.stamp(f)) }
func (s storeLogger) Info(msg string, f Fields)  { s.l.Info(msg, s.stamp(f)) }
func (s storeLogger) Warn(msg string, f Fields)  { s.l.Warn(msg, s.stamp(f)) }
func (s storeLogger) Error(msg string, f Fields) { s.l.Error(msg, s.stamp(f)) }

// coalesce returns def when v is the zero value of T, otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
