package models

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a LogRecord.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a query value to a Level. Empty and "all" mean no filter and return "".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return "", nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown level %q", s)
	}
}

// TimestampLayout is ISO-8601 with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// LogRecord is one immutable entry in the operational event log.
// Seq is the append index and increases by one per append for the process lifetime.
type LogRecord struct {
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

// NewLogRecord builds a record stamped with t.
func NewLogRecord(seq uint64, t time.Time, level Level, message string) LogRecord {
	return LogRecord{
		Seq:       seq,
		Timestamp: t.UTC().Format(TimestampLayout),
		Level:     level,
		Message:   message,
	}
}

// Line renders the record as the dashboard's plain-text export line.
func (r LogRecord) Line() string {
	ts := r.Timestamp
	if t, err := time.Parse(TimestampLayout, r.Timestamp); err == nil {
		ts = t.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("[%s] %s %s", ts, strings.ToUpper(string(r.Level)), r.Message)
}
