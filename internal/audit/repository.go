package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command outcomes stored in command_log.outcome.
const (
	OutcomeApplied       = "applied"
	OutcomeFailed        = "failed"
	OutcomeUnknownDevice = "unknown_device"
	OutcomeUnknownAction = "unknown_action"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CommandEntry is one received command and what became of it.
type CommandEntry struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Action     string    `json:"action"`
	Value      int64     `json:"value"`
	Source     string    `json:"source"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	DurationMS int64     `json:"duration_ms"`
}

// ConnectionEvent is one collector connection state transition.
type ConnectionEvent struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandFilter narrows ListCommands. Limit defaults to 50, capped at 200.
type CommandFilter struct {
	Device string
	Limit  int
}

// Repository is the audit store used by the dispatcher, supervisor and API.
type Repository interface {
	RecordCommand(ctx context.Context, entry *CommandEntry) error
	RecordConnectionEvent(ctx context.Context, event *ConnectionEvent) error
	ListCommands(ctx context.Context, filter CommandFilter) ([]CommandEntry, error)
	ListConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error)
}

// SQLiteRepository stores the audit trail in the agent's SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordCommand inserts a command entry, filling ID and ReceivedAt if empty.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, entry *CommandEntry) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device, action, value, source, outcome, error, received_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Device, entry.Action, entry.Value, entry.Source, entry.Outcome,
		nullableString(entry.Error), entry.ReceivedAt.UTC().Format(timeLayout), entry.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting command entry: %w", err)
	}
	return nil
}

// RecordConnectionEvent inserts a state transition, filling ID and
// CreatedAt if empty.
func (r *SQLiteRepository) RecordConnectionEvent(ctx context.Context, event *ConnectionEvent) error {
	if event.ID == "" {
		event.ID = "conn-" + uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (id, from_state, to_state, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.From, event.To, nullableString(event.Reason),
		event.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// ListCommands returns the newest command entries first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, filter CommandFilter) ([]CommandEntry, error) {
	var conditions []string
	var args []any
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed, parameterised conditions
		`SELECT id, device, action, value, source, outcome, error, received_at, duration_ms
		 FROM command_log %s ORDER BY received_at DESC LIMIT ?`, where)
	args = append(args, clampLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []CommandEntry{}
	for rows.Next() {
		var e CommandEntry
		var errText sql.NullString
		var receivedAt string
		if err := rows.Scan(&e.ID, &e.Device, &e.Action, &e.Value, &e.Source, &e.Outcome,
			&errText, &receivedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning command entry: %w", err)
		}
		e.Error = errText.String
		if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}

// ListConnectionEvents returns the newest connection events first.
func (r *SQLiteRepository) ListConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, reason, created_at
		 FROM connection_events ORDER BY created_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := []ConnectionEvent{}
	for rows.Next() {
		var ev ConnectionEvent
		var reason sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.From, &ev.To, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		ev.Reason = reason.String
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing audit timestamp %q: %w", s, err)
	}
	return t, nil
}
