package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pulse-link-core/internal/infrastructure/database"
)

// timeFormat is fixed-width so lexicographic order in the index matches
// chronological order, sub-second ties included.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// recordTimeout bounds observer-path inserts, which run outside any
// caller-supplied context.
const recordTimeout = 5 * time.Second

// Entry is one recorded device command.
type Entry struct {
	ID        string    `json:"id"`
	DeviceID  uint32    `json:"device_id"`
	Command   string    `json:"command"`
	Strength  float64   `json:"strength"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store persists the command audit trail in SQLite.
//
// It satisfies the command router's observer interface, so wiring it in
// records every intensity command issued to a device.
type Store struct {
	db     *database.DB
	logger Logger
}

// NewStore creates a command history store on an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for this store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Record inserts one entry. ID and CreatedAt are assigned here.
func (s *Store) Record(ctx context.Context, deviceID uint32, command string, strength float64, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history (id, device_id, command, strength, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), deviceID, command, strength, source,
		time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("history: recording command: %w", err)
	}
	return nil
}

// CommandIssued records a vibration command issued by the router.
// Persistence failures are logged, never surfaced; the audit trail must
// not interfere with command delivery.
func (s *Store) CommandIssued(deviceID uint32, strength float64, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := s.Record(ctx, deviceID, "vibrate", strength, source); err != nil {
		s.logger.Warn("command history write failed",
			"device", deviceID, "source", source, "error", err)
	}
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, device_id, command, strength, source, created_at
		FROM command_history
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
}

// RecentForDevice returns the newest entries for one device, most recent
// first.
func (s *Store) RecentForDevice(ctx context.Context, deviceID uint32, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, device_id, command, strength, source, created_at
		FROM command_history
		WHERE device_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, deviceID, limit)
}

// Prune deletes entries older than the retention window and returns the
// number removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(timeFormat)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM command_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}
	if removed > 0 {
		s.logger.Info("command history pruned", "removed", removed)
	}
	return removed, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: querying: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Command, &e.Strength, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("history: parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating rows: %w", err)
	}
	return entries, nil
}
