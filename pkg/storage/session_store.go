package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/morsekit/cwd/pkg/logging"
	"github.com/morsekit/cwd/pkg/protocol"
)

// SessionStore persists sent and decoded CW sessions in SQLite.
type SessionStore struct {
	db          *sql.DB
	dbPath      string
	maxSessions int
	log         *logging.ComponentLogger
}

// NewSessionStore creates a session store with a SQLite backend.
func NewSessionStore(dbPath string, maxSessions int) (*SessionStore, error) {
	store := &SessionStore{
		dbPath:      dbPath,
		maxSessions: maxSessions,
		log:         logging.GetGlobalLogger().Component("storage"),
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (ss *SessionStore) initialize() error {
	if ss.dbPath == "" {
		ss.dbPath = "./cwd.db"
	}

	if err := os.MkdirAll(filepath.Dir(ss.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ss.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ss.db = db

	if err := ss.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := ss.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	ss.log.Infof("Session store initialized: %s (max %d sessions)", ss.dbPath, ss.maxSessions)
	return nil
}

// createTables creates the database schema
func (ss *SessionStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		direction TEXT NOT NULL CHECK (direction IN ('sent', 'received')),
		text TEXT NOT NULL,
		speed_wpm REAL NOT NULL DEFAULT 0.0,
		error_rate REAL NOT NULL DEFAULT 0.0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS timing_stats (
		session_id INTEGER PRIMARY KEY,
		dot_deviation_us INTEGER NOT NULL DEFAULT 0,
		dash_deviation_us INTEGER NOT NULL DEFAULT 0,
		mark_space_deviation_us INTEGER NOT NULL DEFAULT 0,
		char_space_deviation_us INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS session_totals (
		id INTEGER PRIMARY KEY,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		total_sent INTEGER NOT NULL DEFAULT 0,
		total_received INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO session_totals (id, total_sessions, total_sent, total_received)
	VALUES (1, 0, 0, 0);
	`

	_, err := ss.db.Exec(schema)
	return err
}

// createIndexes creates database indexes for the query paths
func (ss *SessionStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_timestamp ON sessions(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_direction ON sessions(direction)",
	}

	for _, indexSQL := range indexes {
		if _, err := ss.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// TimingDeviations carries the per-category jitter of one session, as
// standard deviations from ideal element lengths.
type TimingDeviations struct {
	Dot       time.Duration
	Dash      time.Duration
	MarkSpace time.Duration
	CharSpace time.Duration
}

// StoreSession stores a session and its timing statistics. It returns the
// assigned session ID.
func (ss *SessionStore) StoreSession(session protocol.Session, timing *TimingDeviations) (int64, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO sessions (timestamp, direction, text, speed_wpm, error_rate)
		VALUES (?, ?, ?, ?, ?)`,
		session.Timestamp, session.Direction, session.Text,
		session.SpeedWPM, session.ErrorRate,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	sessionID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get session ID: %w", err)
	}

	if timing != nil {
		_, err = tx.Exec(`
			INSERT INTO timing_stats (
				session_id, dot_deviation_us, dash_deviation_us,
				mark_space_deviation_us, char_space_deviation_us
			) VALUES (?, ?, ?, ?, ?)`,
			sessionID,
			timing.Dot.Microseconds(), timing.Dash.Microseconds(),
			timing.MarkSpace.Microseconds(), timing.CharSpace.Microseconds(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert timing stats: %w", err)
		}
	}

	if err := ss.updateTotals(tx, session.Direction); err != nil {
		return 0, fmt.Errorf("failed to update totals: %w", err)
	}

	if err := ss.cleanupOldSessions(tx); err != nil {
		ss.log.Warnf("Failed to cleanup old sessions: %v", err)
	}

	return sessionID, tx.Commit()
}

// updateTotals bumps the running counters
func (ss *SessionStore) updateTotals(tx *sql.Tx, direction string) error {
	_, err := tx.Exec(`
		UPDATE session_totals SET
			total_sessions = total_sessions + 1,
			total_sent = CASE WHEN ? = 'sent' THEN total_sent + 1 ELSE total_sent END,
			total_received = CASE WHEN ? = 'received' THEN total_received + 1 ELSE total_received END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		direction, direction,
	)
	return err
}

// CleanupOldSessions removes sessions beyond the configured limit.
func (ss *SessionStore) CleanupOldSessions() error {
	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ss.cleanupOldSessions(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (ss *SessionStore) cleanupOldSessions(tx *sql.Tx) error {
	if ss.maxSessions <= 0 {
		return nil // No limit
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return err
	}
	if count <= ss.maxSessions {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			ORDER BY timestamp ASC
			LIMIT ?
		)`,
		count-ss.maxSessions,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE session_totals SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database connection
func (ss *SessionStore) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
