package serve

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		event_id   TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL DEFAULT 0,
		action     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS usage_snapshots (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		backend          TEXT NOT NULL,
		healthy          INTEGER NOT NULL DEFAULT 0,
		latency_ms       REAL NOT NULL DEFAULT 0,
		requests         INTEGER NOT NULL DEFAULT 0,
		tokens           INTEGER NOT NULL DEFAULT 0,
		request_fraction REAL NOT NULL DEFAULT 0,
		token_fraction   REAL NOT NULL DEFAULT 0,
		snapshot_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chat_user ON chat_messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_backend ON usage_snapshots(backend);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendChatMessage adds one message to a user's history.
func (s *SQLiteStore) AppendChatMessage(userID int64, role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (user_id, role, content) VALUES (?, ?, ?)`,
		userID, role, content,
	)
	return err
}

// ChatHistory returns the last limit messages for a user, oldest first.
func (s *SQLiteStore) ChatHistory(userID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means no limit
	}
	rows, err := s.db.Query(
		`SELECT role, content FROM (
		   SELECT id, role, content FROM chat_messages
		   WHERE user_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// TrimChatHistory deletes all but the newest keep messages for a user.
func (s *SQLiteStore) TrimChatHistory(userID int64, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.Exec(
		`DELETE FROM chat_messages
		 WHERE user_id = ? AND id NOT IN (
		   SELECT id FROM chat_messages WHERE user_id = ? ORDER BY id DESC LIMIT ?
		 )`,
		userID, userID, keep,
	)
	return err
}

// ClearChatHistory removes a user's history entirely.
func (s *SQLiteStore) ClearChatHistory(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM chat_messages WHERE user_id = ?`, userID)
	return err
}

// InsertAuditEvent records an administrative or security action.
func (s *SQLiteStore) InsertAuditEvent(e AuditEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (event_id, user_id, action, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.Detail, e.CreatedAt,
	)
	return err
}

// ListAuditEvents returns recent audit events, newest first.
func (s *SQLiteStore) ListAuditEvents(limit int) ([]AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT event_id, user_id, action, detail, created_at
		 FROM audit_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertUsageSnapshot records one backend's health and quota state.
func (s *SQLiteStore) InsertUsageSnapshot(snap UsageSnapshot) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_snapshots
		 (backend, healthy, latency_ms, requests, tokens, request_fraction, token_fraction, snapshot_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Backend, snap.Healthy, snap.LatencyMs, snap.Requests, snap.Tokens,
		snap.RequestFraction, snap.TokenFraction, snap.SnapshotAt,
	)
	return err
}

// ListUsageSnapshots returns recent snapshots, newest first. An empty
// backend matches all backends.
func (s *SQLiteStore) ListUsageSnapshots(backend string, limit int) ([]UsageSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, backend, healthy, latency_ms, requests, tokens,
		        request_fraction, token_fraction, snapshot_at
		 FROM usage_snapshots
		 WHERE (? = '' OR backend = ?)
		 ORDER BY id DESC LIMIT ?`,
		backend, backend, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []UsageSnapshot
	for rows.Next() {
		var snap UsageSnapshot
		if err := rows.Scan(
			&snap.ID, &snap.Backend, &snap.Healthy, &snap.LatencyMs,
			&snap.Requests, &snap.Tokens, &snap.RequestFraction, &snap.TokenFraction,
			&snap.SnapshotAt,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
