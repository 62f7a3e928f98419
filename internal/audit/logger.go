// Package audit maintains an append-only record of protocol-level
// operations (initialize, tool calls, cancellations) independent of the
// in-memory session and operation state, which is discarded on restart.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Operation identifies the kind of auditable event.
type Operation string

const (
	OpSessionConnect    Operation = "session.connect"
	OpSessionDisconnect Operation = "session.disconnect"
	OpToolCall          Operation = "tool.call"
	OpResourceRead      Operation = "resource.read"
	OpPromptGet         Operation = "prompt.get"
	OpOperationCancel   Operation = "operation.cancel"
)

// Record is a single audit trail entry.
type Record struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Operation Operation      `json:"operation"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger records audit events to both structured stdout logs and a
// durable SQLite trail.
type Logger struct {
	logger  *slog.Logger
	db      *sql.DB
	enabled bool
	mu      sync.RWMutex
}

// New creates an audit logger backed by a SQLite database under dataDir.
// If dataDir is empty, events are logged to stdout only and not persisted.
func New(dataDir string, enabled bool) (*Logger, error) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	l := &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}

	if dataDir == "" {
		return l, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating audit database: %w", err)
	}

	l.db = db
	return l, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		operation TEXT NOT NULL,
		session_id TEXT,
		request_id TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_records(operation);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection, if any.
func (l *Logger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// SetEnabled enables or disables audit recording.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event to stdout and, when configured, to the
// durable SQLite trail.
func (l *Logger) Log(record *Record) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(record.Operation)),
		slog.Bool("success", record.Success),
	}
	if record.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", record.SessionID))
	}
	if record.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", record.RequestID))
	}
	if record.Error != "" {
		attrs = append(attrs, slog.String("error", record.Error))
	}
	var detailsJSON []byte
	if record.Details != nil {
		detailsJSON, _ = json.Marshal(record.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}
	l.logger.Info("AUDIT", attrs...)

	if l.db == nil {
		return
	}
	_, err := l.db.Exec(
		`INSERT INTO audit_records (timestamp, operation, session_id, request_id, success, error, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp, string(record.Operation), record.SessionID, record.RequestID,
		record.Success, record.Error, string(detailsJSON),
	)
	if err != nil {
		l.logger.Error("failed to persist audit record", slog.String("error", err.Error()))
	}
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op Operation, sessionID, requestID string) {
	l.Log(&Record{Operation: op, SessionID: sessionID, RequestID: requestID, Success: true})
}

// LogFailure records a failed operation.
func (l *Logger) LogFailure(op Operation, sessionID, requestID string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Record{Operation: op, SessionID: sessionID, RequestID: requestID, Success: false, Error: errMsg})
}

// Recent returns the most recently recorded audit records, newest first,
// up to limit entries. Returns an empty slice if persistence is disabled.
func (l *Logger) Recent(limit int) ([]Record, error) {
	if l.db == nil {
		return nil, nil
	}

	rows, err := l.db.Query(
		`SELECT id, timestamp, operation, session_id, request_id, success, error, details
		 FROM audit_records ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var sessionID, requestID, errStr, details sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Operation, &sessionID, &requestID, &r.Success, &errStr, &details); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		r.SessionID = sessionID.String
		r.RequestID = requestID.String
		r.Error = errStr.String
		if details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &r.Details)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
