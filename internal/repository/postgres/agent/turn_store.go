package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"advisor/internal/domain"
	models "advisor/internal/domain/models/agent"
	"advisor/internal/domain/repositories"
	agentRepo "advisor/internal/domain/repositories/agent"
	"advisor/internal/repository/postgres"
	"advisor/internal/repository/turncodec"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTurnStore implements the TurnStore interface using PostgreSQL
type PostgresTurnStore struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	tm     repositories.TransactionManager
	logger *slog.Logger
}

// NewTurnStore creates a new PostgresTurnStore
func NewTurnStore(config *postgres.RepositoryConfig, tm repositories.TransactionManager) agentRepo.TurnStore {
	return &PostgresTurnStore{
		pool:   config.Pool,
		tables: config.Tables,
		tm:     tm,
		logger: config.Logger,
	}
}

// LoadLatest returns the raw items and metadata of the thread's newest turn.
// An unknown thread yields an empty history and no error.
func (s *PostgresTurnStore) LoadLatest(ctx context.Context, threadID string) (models.Items, models.TurnMetadata, error) {
	query := fmt.Sprintf(`
		SELECT raw_items, metadata
		FROM %s
		WHERE thread_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, s.tables.AgentTurns)

	var rawItems, rawMetadata []byte
	executor := postgres.GetExecutor(ctx, s.pool)
	err := executor.QueryRow(ctx, query, threadID).Scan(&rawItems, &rawMetadata)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return models.Items{}, models.TurnMetadata{}, nil
		}
		return nil, models.TurnMetadata{}, domain.NewStorageError("load latest turn", err)
	}

	items, metadata, err := turncodec.DecodeState(rawItems, rawMetadata)
	if err != nil {
		return nil, models.TurnMetadata{}, domain.NewStorageError("decode latest turn", err)
	}

	s.logger.Debug("loaded latest turn",
		"thread_id", threadID,
		"items", len(items),
		"prior_total_tokens", metadata.PriorTotalTokens(),
	)
	return items, metadata, nil
}

// AppendTurn creates the thread if needed and inserts the turn in one transaction.
// The first writer of a thread owns it.
func (s *PostgresTurnStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	output, rawItems, metadata, err := turncodec.EncodeTurn(turn)
	if err != nil {
		return domain.NewStorageError("encode turn", err)
	}

	threadQuery := fmt.Sprintf(`
		INSERT INTO %s (thread_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (thread_id) DO NOTHING
	`, s.tables.AgentThreads)

	turnQuery := fmt.Sprintf(`
		INSERT INTO %s (thread_id, user_id, input, output, raw_items, metadata)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb)
		RETURNING id, created_at
	`, s.tables.AgentTurns)

	err = s.tm.ExecTx(ctx, func(txCtx context.Context) error {
		executor := postgres.GetExecutor(txCtx, s.pool)
		if _, err := executor.Exec(txCtx, threadQuery, turn.ThreadID, turn.UserID); err != nil {
			return fmt.Errorf("ensure thread: %w", err)
		}

		var id int64
		if err := executor.QueryRow(txCtx, turnQuery,
			turn.ThreadID,
			turn.UserID,
			turn.Input,
			output,
			rawItems,
			metadata,
		).Scan(&id, &turn.CreatedAt); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		turn.ID = strconv.FormatInt(id, 10)
		return nil
	})
	if err != nil {
		return domain.NewStorageError("append turn", err)
	}

	s.logger.Debug("appended turn",
		"thread_id", turn.ThreadID,
		"turn_id", turn.ID,
		"items", len(turn.RawItems),
	)
	return nil
}

// ListTurns returns up to limit turns of a thread, oldest first
func (s *PostgresTurnStore) ListTurns(ctx context.Context, threadID string, limit int) ([]models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, user_id, input, output, raw_items, metadata, created_at
		FROM (
			SELECT * FROM %s WHERE thread_id = $1 ORDER BY id DESC LIMIT $2
		) recent
		ORDER BY id ASC
	`, s.tables.AgentTurns)

	executor := postgres.GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, threadID, limit)
	if err != nil {
		return nil, domain.NewStorageError("list turns", err)
	}
	defer rows.Close()

	turns := make([]models.Turn, 0)
	for rows.Next() {
		turn, err := scanTurnRow(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan turn", err)
		}
		turns = append(turns, *turn)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list turns", err)
	}
	return turns, nil
}

// GetThread returns a thread or domain.ErrNotFound
func (s *PostgresTurnStore) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	query := fmt.Sprintf(`
		SELECT thread_id, user_id, created_at
		FROM %s
		WHERE thread_id = $1
	`, s.tables.AgentThreads)

	var thread models.Thread
	executor := postgres.GetExecutor(ctx, s.pool)
	err := executor.QueryRow(ctx, query, threadID).Scan(&thread.ThreadID, &thread.UserID, &thread.CreatedAt)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get thread", err)
	}
	return &thread, nil
}

// scanner defines the interface for row scanning (implemented by both pgx.Row and pgx.Rows)
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTurnRow(row scanner) (*models.Turn, error) {
	var (
		turn                          models.Turn
		id                            int64
		output, rawItems, rawMetadata []byte
	)
	if err := row.Scan(
		&id,
		&turn.ThreadID,
		&turn.UserID,
		&turn.Input,
		&output,
		&rawItems,
		&rawMetadata,
		&turn.CreatedAt,
	); err != nil {
		return nil, err
	}
	turn.ID = strconv.FormatInt(id, 10)

	events, err := turncodec.DecodeOutput(output)
	if err != nil {
		return nil, err
	}
	turn.Output = events

	items, metadata, err := turncodec.DecodeState(rawItems, rawMetadata)
	if err != nil {
		return nil, err
	}
	turn.RawItems = items
	turn.Metadata = metadata
	return &turn, nil
}
