package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// AlertRecord is a dispatched alert
type AlertRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Conditions []string  `json:"conditions"`
	Episode    uint64    `json:"episode"`
	FrameSeq   uint64    `json:"frame_seq"`
	Response   string    `json:"response"`
	ImagePath  string    `json:"image_path"`
}

// SettingRecord is a persisted runtime override
type SettingRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// New opens the database at dbPath
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			conditions TEXT NOT NULL,
			episode INTEGER NOT NULL,
			frame_seq INTEGER NOT NULL,
			response TEXT,
			image_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveSetting saves or replaces a setting value
func (d *Database) SaveSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := d.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}

// GetSetting retrieves a setting value
func (d *Database) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// ListSettings returns all setting values
func (d *Database) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// DeleteSetting removes a setting
func (d *Database) DeleteSetting(ctx context.Context, key string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAlert records a dispatched alert
func (d *Database) SaveAlert(ctx context.Context, alert *AlertRecord) error {
	conds, err := json.Marshal(alert.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	query := `INSERT INTO alerts (id, timestamp, conditions, episode, frame_seq, response, image_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, query, alert.ID, alert.Timestamp.UTC(), string(conds),
		int64(alert.Episode), int64(alert.FrameSeq), alert.Response, alert.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts newest first, optionally since a time
func (d *Database) ListAlerts(ctx context.Context, since *time.Time, limit int) ([]*AlertRecord, error) {
	query := `SELECT id, timestamp, conditions, episode, frame_seq, response, image_path
		FROM alerts WHERE 1=1`
	args := []interface{}{}

	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*AlertRecord{}
	for rows.Next() {
		var a AlertRecord
		var conds string
		var episode, seq int64
		var response, imagePath sql.NullString
		if err := rows.Scan(&a.ID, &a.Timestamp, &conds, &episode, &seq, &response, &imagePath); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := json.Unmarshal([]byte(conds), &a.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
		a.Episode, a.FrameSeq = uint64(episode), uint64(seq)
		a.Response, a.ImagePath = response.String, imagePath.String
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// DeleteOldAlerts deletes alerts older than before
func (d *Database) DeleteOldAlerts(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM alerts WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alerts: %w", err)
	}
	return result.RowsAffected()
}
