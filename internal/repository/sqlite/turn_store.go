// Package sqlite is a single-file turn store for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"advisor/internal/domain"
	models "advisor/internal/domain/models/agent"
	agentRepo "advisor/internal/domain/repositories/agent"
	"advisor/internal/repository/turncodec"
	_ "modernc.org/sqlite"
)

// TurnStore persists threads and turns in SQLite
type TurnStore struct {
	db     *sql.DB
	prefix string
	logger *slog.Logger
}

var _ agentRepo.TurnStore = (*TurnStore)(nil)

// Open creates/opens the database at path. ":memory:" gives a private in-memory store.
func Open(path, tablePrefix string, logger *slog.Logger) (*TurnStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection: serializes writers and keeps :memory: a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &TurnStore{db: db, prefix: tablePrefix, logger: logger}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database
func (s *TurnStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable
func (s *TurnStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *TurnStore) threads() string { return s.prefix + "agent_threads" }
func (s *TurnStore) turns() string   { return s.prefix + "agent_turns" }

func (s *TurnStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			thread_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`, s.threads()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_idx ON %s(user_id);`, s.threads(), s.threads()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			input TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '[]',
			raw_items TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`, s.turns()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_thread_idx ON %s(thread_id, id DESC);`, s.turns(), s.turns()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_idx ON %s(user_id);`, s.turns(), s.turns()),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// LoadLatest returns the raw items and metadata of the thread's newest turn
func (s *TurnStore) LoadLatest(ctx context.Context, threadID string) (models.Items, models.TurnMetadata, error) {
	query := fmt.Sprintf(`SELECT raw_items, metadata FROM %s WHERE thread_id = ? ORDER BY id DESC LIMIT 1`, s.turns())

	var rawItems, rawMetadata string
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&rawItems, &rawMetadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Items{}, models.TurnMetadata{}, nil
		}
		return nil, models.TurnMetadata{}, domain.NewStorageError("load latest turn", err)
	}

	items, metadata, err := turncodec.DecodeState([]byte(rawItems), []byte(rawMetadata))
	if err != nil {
		return nil, models.TurnMetadata{}, domain.NewStorageError("decode latest turn", err)
	}
	return items, metadata, nil
}

// AppendTurn creates the thread if needed and inserts the turn in one transaction
func (s *TurnStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	output, rawItems, metadata, err := turncodec.EncodeTurn(turn)
	if err != nil {
		return domain.NewStorageError("encode turn", err)
	}

	now := time.Now().UTC()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (thread_id, user_id, created_at_ms) VALUES (?, ?, ?) ON CONFLICT(thread_id) DO NOTHING`, s.threads()),
			turn.ThreadID, turn.UserID, now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("ensure thread: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (thread_id, user_id, input, output, raw_items, metadata, created_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.turns()),
			turn.ThreadID, turn.UserID, turn.Input, output, rawItems, metadata, now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		turn.ID = strconv.FormatInt(id, 10)
		turn.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
		return nil
	})
	if err != nil {
		return domain.NewStorageError("append turn", err)
	}
	return nil
}

func (s *TurnStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListTurns returns up to limit turns of a thread, oldest first
func (s *TurnStore) ListTurns(ctx context.Context, threadID string, limit int) ([]models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, user_id, input, output, raw_items, metadata, created_at_ms
		FROM (SELECT * FROM %s WHERE thread_id = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, s.turns())

	rows, err := s.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, domain.NewStorageError("list turns", err)
	}
	defer rows.Close()

	turns := make([]models.Turn, 0)
	for rows.Next() {
		var (
			turn                          models.Turn
			id, createdAt                 int64
			output, rawItems, rawMetadata string
		)
		if err := rows.Scan(&id, &turn.ThreadID, &turn.UserID, &turn.Input, &output, &rawItems, &rawMetadata, &createdAt); err != nil {
			return nil, domain.NewStorageError("scan turn", err)
		}
		turn.ID = strconv.FormatInt(id, 10)
		turn.CreatedAt = time.UnixMilli(createdAt).UTC()

		if turn.Output, err = turncodec.DecodeOutput([]byte(output)); err != nil {
			return nil, domain.NewStorageError("decode turn", err)
		}
		if turn.RawItems, turn.Metadata, err = turncodec.DecodeState([]byte(rawItems), []byte(rawMetadata)); err != nil {
			return nil, domain.NewStorageError("decode turn", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list turns", err)
	}
	return turns, nil
}

// GetThread returns a thread or domain.ErrNotFound
func (s *TurnStore) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	query := fmt.Sprintf(`SELECT thread_id, user_id, created_at_ms FROM %s WHERE thread_id = ?`, s.threads())

	var (
		thread    models.Thread
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&thread.ThreadID, &thread.UserID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get thread", err)
	}
	thread.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &thread, nil
}
