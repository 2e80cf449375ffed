package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/morsekit/cwd/pkg/protocol"
)

// SessionQuery represents query parameters for retrieving sessions
type SessionQuery struct {
	Limit     int
	Offset    int
	Since     *time.Time
	Until     *time.Time
	SinceID   int64
	Direction string // "sent", "received", or "" for both
}

// Totals represents the running database counters
type Totals struct {
	TotalSessions int       `json:"total_sessions"`
	TotalSent     int       `json:"total_sent"`
	TotalReceived int       `json:"total_received"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

// GetSessions retrieves sessions based on query parameters, newest first.
func (ss *SessionStore) GetSessions(query SessionQuery) ([]protocol.Session, error) {
	sqlQuery := `
		SELECT id, timestamp, direction, text, speed_wpm, error_rate
		FROM sessions
		WHERE 1=1
	`
	var args []interface{}

	if query.Since != nil {
		sqlQuery += " AND timestamp >= ?"
		args = append(args, query.Since)
	}
	if query.Until != nil {
		sqlQuery += " AND timestamp <= ?"
		args = append(args, query.Until)
	}
	if query.SinceID > 0 {
		sqlQuery += " AND id > ?"
		args = append(args, query.SinceID)
	}
	if query.Direction != "" {
		sqlQuery += " AND direction = ?"
		args = append(args, query.Direction)
	}

	sqlQuery += " ORDER BY timestamp DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ss.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []protocol.Session
	for rows.Next() {
		var s protocol.Session
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Direction, &s.Text,
			&s.SpeedWPM, &s.ErrorRate); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetSession retrieves a single session by ID.
func (ss *SessionStore) GetSession(id int64) (*protocol.Session, error) {
	var s protocol.Session
	err := ss.db.QueryRow(`
		SELECT id, timestamp, direction, text, speed_wpm, error_rate
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.Timestamp, &s.Direction, &s.Text, &s.SpeedWPM, &s.ErrorRate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &s, nil
}

// GetTimingDeviations retrieves the stored timing statistics of a
// session, or nil if none were recorded.
func (ss *SessionStore) GetTimingDeviations(sessionID int64) (*TimingDeviations, error) {
	var dotUs, dashUs, markSpaceUs, charSpaceUs int64
	err := ss.db.QueryRow(`
		SELECT dot_deviation_us, dash_deviation_us,
		       mark_space_deviation_us, char_space_deviation_us
		FROM timing_stats WHERE session_id = ?`, sessionID,
	).Scan(&dotUs, &dashUs, &markSpaceUs, &charSpaceUs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query timing stats: %w", err)
	}

	return &TimingDeviations{
		Dot:       time.Duration(dotUs) * time.Microsecond,
		Dash:      time.Duration(dashUs) * time.Microsecond,
		MarkSpace: time.Duration(markSpaceUs) * time.Microsecond,
		CharSpace: time.Duration(charSpaceUs) * time.Microsecond,
	}, nil
}

// GetTotals retrieves the running counters.
func (ss *SessionStore) GetTotals() (*Totals, error) {
	var totals Totals
	var lastCleanup sql.NullTime
	err := ss.db.QueryRow(`
		SELECT total_sessions, total_sent, total_received, last_cleanup
		FROM session_totals WHERE id = 1`,
	).Scan(&totals.TotalSessions, &totals.TotalSent, &totals.TotalReceived, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	if lastCleanup.Valid {
		totals.LastCleanup = lastCleanup.Time
	}
	return &totals, nil
}

// CountSessions returns the number of stored sessions.
func (ss *SessionStore) CountSessions() (int, error) {
	var count int
	err := ss.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}
