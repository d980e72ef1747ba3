package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

var _ Repository = (*SQLiteStore)(nil)

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		tenant_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		sender_id TEXT,
		kind TEXT NOT NULL,
		body TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_message_log_conv ON message_log(tenant_id, conversation_id, id);
	CREATE INDEX IF NOT EXISTS idx_message_log_created ON message_log(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertSession creates or updates a session record. CreatedAt is kept from
// the first insert.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO sessions (tenant_id, state, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(tenant_id) DO UPDATE SET
		state = excluded.state,
		updated_at = excluded.updated_at`

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.TenantID, string(rec.State),
			rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session record by tenant ID.
func (s *SQLiteStore) GetSession(ctx context.Context, tenantID string) (*domain.SessionRecord, error) {
	query := `SELECT tenant_id, state, created_at, updated_at FROM sessions WHERE tenant_id = ?`

	rec, err := scanSession(s.db.QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// ListSessions returns every session record ordered by tenant ID.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	query := `SELECT tenant_id, state, created_at, updated_at FROM sessions ORDER BY tenant_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var recs []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var state string
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.TenantID, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.State = domain.ConnectionState(state)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// DeleteSession removes a tenant's session record.
func (s *SQLiteStore) DeleteSession(ctx context.Context, tenantID string) error {
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE tenant_id = ?`, tenantID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session for %s: %w", tenantID, err)
	}
	return nil
}

// AppendMessage inserts a message log entry.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.LoggedMessage) error {
	query := `
	INSERT INTO message_log (tenant_id, conversation_id, direction, sender_id, kind, body, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	var senderID any
	if msg.SenderID != "" {
		senderID = msg.SenderID
	}

	var result sql.Result
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query,
			msg.TenantID, msg.ConversationID, msg.Direction,
			senderID, msg.Kind, msg.Body, msg.CreatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get message id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListMessages returns up to limit entries for a conversation, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*domain.LoggedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tenant_id, conversation_id, direction, sender_id, kind, body, created_at
		FROM message_log
		WHERE tenant_id = ? AND conversation_id = ?
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.LoggedMessage
	for rows.Next() {
		var msg domain.LoggedMessage
		var senderID, body sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&msg.ID, &msg.TenantID, &msg.ConversationID, &msg.Direction,
			&senderID, &msg.Kind, &body, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.SenderID = senderID.String
		msg.Body = body.String
		msg.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// PruneMessages removes log entries older than olderThan.
func (s *SQLiteStore) PruneMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := s.now().Add(-olderThan).Unix()

	var result sql.Result
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, `DELETE FROM message_log WHERE created_at < ?`, threshold)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
