package core

// LogEntry is the structured record a task-execution log stream may send.
type LogEntry struct {
	Level     string `json:"level"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // as sent by the server, not parsed
}

// Log levels used by the console backend.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warning"
	LevelError = "error"
)
