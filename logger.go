package campuslink

import "log"

// Logger is the minimal logging interface accepted by the SDK.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// noopLogger discards all logs. It is the default.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// StdLogger writes to the standard library logger.
type StdLogger struct{}

func (StdLogger) Debug(msg string, fields map[string]any) { logf("DEBUG", msg, fields) }
func (StdLogger) Info(msg string, fields map[string]any)  { logf("INFO", msg, fields) }
func (StdLogger) Warn(msg string, fields map[string]any)  { logf("WARN", msg, fields) }
func (StdLogger) Error(msg string, fields map[string]any) { logf("ERROR", msg, fields) }

func logf(level, msg string, fields map[string]any) {
	if len(fields) == 0 {
		log.Printf("[%s] %s", level, msg)
		return
	}
	log.Printf("[%s] %s %v", level, msg, fields)
}
