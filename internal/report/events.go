package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// EventType represents the pipeline stage an event belongs to
type EventType string

const (
	EventScan      EventType = "scan"
	EventPrimary   EventType = "primary"
	EventDuplicate EventType = "duplicate"
	EventSkip      EventType = "skip"
	EventClassify  EventType = "classify"
	EventProject   EventType = "project"
	EventStage     EventType = "stage"
	EventDryRun    EventType = "dry_run"
	EventCommit    EventType = "commit"
	EventRollback  EventType = "rollback"
	EventPurge     EventType = "purge"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel maps a config string to an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	l := EventLevel(s)
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return LevelInfo
}

// Event is one line of the JSONL event log
type Event struct {
	Timestamp   time.Time         `json:"ts"`
	Level       EventLevel        `json:"level"`
	Event       EventType         `json:"event"`
	RunID       string            `json:"run_id,omitempty"`
	FileID      int64             `json:"file_id,omitempty"`
	SrcPath     string            `json:"src_path,omitempty"`
	DestPath    string            `json:"dest_path,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Bytes       int64             `json:"bytes,omitempty"`
	Duration    int64             `json:"duration_ms,omitempty"`
	Error       string            `json:"error,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil *EventLogger is valid
// and discards everything.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
	runID    string
}

// NewEventLogger creates events-<timestamp>.jsonl in outputDir.
// Events below minLevel are dropped.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// SetRunID tags every following event with a run id
func (l *EventLogger) SetRunID(id string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.runID = id
	l.mu.Unlock()
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// LogScan logs a discovered file
func (l *EventLogger) LogScan(srcPath string, sizeBytes int64, mimeType string) error {
	return l.Log(&Event{
		Level:   LevelDebug,
		Event:   EventScan,
		SrcPath: srcPath,
		Bytes:   sizeBytes,
		Extra:   map[string]string{"mime_type": mimeType},
	})
}

// LogPrimary logs a record that became the canonical copy of its content
func (l *EventLogger) LogPrimary(id int64, srcPath, hash string) error {
	return l.Log(&Event{
		Level:       LevelDebug,
		Event:       EventPrimary,
		FileID:      id,
		SrcPath:     srcPath,
		ContentHash: hash,
	})
}

// LogDuplicate logs a record whose content matched an earlier primary
func (l *EventLogger) LogDuplicate(id int64, srcPath, hash string, primaryID int64) error {
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       EventDuplicate,
		FileID:      id,
		SrcPath:     srcPath,
		ContentHash: hash,
		Extra:       map[string]string{"duplicate_of": strconv.FormatInt(primaryID, 10)},
	})
}

// LogSkip logs a file excluded from processing
func (l *EventLogger) LogSkip(srcPath, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventSkip,
		SrcPath: srcPath,
		Reason:  reason,
	})
}

// LogClassify logs the outcome of one classification batch
func (l *EventLogger) LogClassify(batch, size int, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelWarning
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level: level,
		Event: EventClassify,
		Error: errMsg,
		Extra: map[string]string{
			"batch": strconv.Itoa(batch),
			"size":  strconv.Itoa(size),
		},
	})
}

// LogProject logs the destination path assigned to a primary
func (l *EventLogger) LogProject(id int64, srcPath, destPath, category string) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventProject,
		FileID:   id,
		SrcPath:  srcPath,
		DestPath: destPath,
		Extra:    map[string]string{"category": category},
	})
}

// LogStage logs a copy into the destination tree
func (l *EventLogger) LogStage(id int64, srcPath, destPath string, bytesWritten int64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventStage,
		FileID:   id,
		SrcPath:  srcPath,
		DestPath: destPath,
		Bytes:    bytesWritten,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogDryRun logs the location of a dry-run report
func (l *EventLogger) LogDryRun(reportPath string, count int, totalBytes int64) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventDryRun,
		DestPath: reportPath,
		Bytes:    totalBytes,
		Extra:    map[string]string{"count": strconv.Itoa(count)},
	})
}

// LogTrash logs a commit, rollback or purge action on a single path
func (l *EventLogger) LogTrash(event EventType, srcPath, destPath string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    event,
		SrcPath:  srcPath,
		DestPath: destPath,
		Error:    errMsg,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
