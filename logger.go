package sourcecache

// Fields is a minimal structured field map for log events.
type Fields map[string]any

// Logger is a tiny leveled logger. Wire an adapter around your logging stack
// (see log/zap, log/logrus, log/slog); a nil Logger in Options disables
// logging entirely.
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
