package bulb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SQLiteRecorder records every bulb sighting reported by the discovery
// Manager into the bulb_sightings table, building a history of which bulbs
// were in range and whether they could be connected.
//
// Thread Safety: All methods are safe for concurrent use.
type SQLiteRecorder struct {
	db       *sql.DB
	logger   Logger
	loggerMu sync.RWMutex

	// Prepared upsert (created once in Start, reused)
	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex
}

// Sighting is one row of the bulb_sightings table.
type Sighting struct {
	Address         string
	Name            string
	FirstSeen       time.Time
	LastSeen        time.Time
	SightingCount   int
	ConnectFailures int
	LastError       string
}

// NewSQLiteRecorder creates a recorder. The database must have the
// bulb_sightings table (see migrations).
func NewSQLiteRecorder(db *sql.DB) *SQLiteRecorder {
	return &SQLiteRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *SQLiteRecorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start prepares the upsert statement. Must be called before
// RecordSighting; calling it twice is a no-op.
func (r *SQLiteRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO bulb_sightings (address, name, first_seen, last_seen, sighting_count, connect_failures, last_error)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
			last_seen = excluded.last_seen,
			sighting_count = sighting_count + 1,
			connect_failures = connect_failures + excluded.connect_failures,
			last_error = CASE WHEN excluded.last_error != '' THEN excluded.last_error ELSE last_error END
	`)
	if err != nil {
		return fmt.Errorf("preparing sighting upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.logInfo("sighting recorder started")
	return nil
}

// Stop releases the prepared statement. Later sightings are dropped.
func (r *SQLiteRecorder) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
		r.logInfo("sighting recorder stopped")
	}
}

// RecordSighting implements SightingRecorder. connectErr is non-nil when
// the initial connect of a newly seen bulb failed.
func (r *SQLiteRecorder) RecordSighting(address, name string, connectErr error) {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt == nil {
		return // Not started or stopped
	}

	failures, lastError := 0, ""
	if connectErr != nil {
		failures, lastError = 1, connectErr.Error()
	}

	now := time.Now().Unix()
	if _, err := r.upsertStmt.Exec(strings.ToUpper(address), name, now, now, failures, lastError); err != nil {
		r.logError("recording sighting", err)
	}
}

// Sightings returns every recorded bulb, most recently seen first.
func (r *SQLiteRecorder) Sightings(ctx context.Context) ([]Sighting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, name, first_seen, last_seen, sighting_count, connect_failures, last_error
		FROM bulb_sightings
		ORDER BY last_seen DESC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var (
			s                   Sighting
			firstSeen, lastSeen int64
		)
		if err := rows.Scan(&s.Address, &s.Name, &firstSeen, &lastSeen,
			&s.SightingCount, &s.ConnectFailures, &s.LastError); err != nil {
			return nil, fmt.Errorf("scanning sighting: %w", err)
		}
		s.FirstSeen = time.Unix(firstSeen, 0)
		s.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Sighting returns the record for one address.
func (r *SQLiteRecorder) Sighting(ctx context.Context, address string) (Sighting, bool, error) {
	var (
		s                   Sighting
		firstSeen, lastSeen int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT address, name, first_seen, last_seen, sighting_count, connect_failures, last_error
		FROM bulb_sightings WHERE address = ?
	`, strings.ToUpper(address)).Scan(&s.Address, &s.Name, &firstSeen, &lastSeen,
		&s.SightingCount, &s.ConnectFailures, &s.LastError)
	if err == sql.ErrNoRows {
		return Sighting{}, false, nil
	}
	if err != nil {
		return Sighting{}, false, fmt.Errorf("querying sighting %s: %w", address, err)
	}
	s.FirstSeen = time.Unix(firstSeen, 0)
	s.LastSeen = time.Unix(lastSeen, 0)
	return s, true, nil
}

func (r *SQLiteRecorder) logInfo(msg string, keysAndValues ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (r *SQLiteRecorder) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
