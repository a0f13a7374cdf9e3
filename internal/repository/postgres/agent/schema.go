package agent

import (
	"context"
	"fmt"

	"advisor/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the agent tables and indexes if they do not exist
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				thread_id  TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, tables.AgentThreads),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_id ON %s (user_id)`,
			tables.AgentThreads, tables.AgentThreads),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id         BIGSERIAL PRIMARY KEY,
				thread_id  TEXT NOT NULL REFERENCES %s (thread_id),
				user_id    TEXT NOT NULL,
				input      TEXT NOT NULL DEFAULT '',
				output     JSONB NOT NULL DEFAULT '[]',
				raw_items  JSONB NOT NULL DEFAULT '[]',
				metadata   JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, tables.AgentTurns, tables.AgentThreads),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id, id DESC)`,
			tables.AgentTurns, tables.AgentTurns),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_id ON %s (user_id)`,
			tables.AgentTurns, tables.AgentTurns),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
