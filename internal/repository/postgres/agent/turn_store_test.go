package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"advisor/internal/domain"
	models "advisor/internal/domain/models/agent"
	"advisor/internal/repository/postgres"
)

// Integration tests run against a real database:
//
//	ADVISOR_TEST_DATABASE_URL=postgres://localhost/advisor_test go test ./internal/repository/postgres/...
func newIntegrationStore(t *testing.T) *PostgresTurnStore {
	t.Helper()
	url := os.Getenv("ADVISOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ADVISOR_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, url)
	if err != nil {
		t.Fatalf("CreateConnectionPool() error = %v", err)
	}
	t.Cleanup(pool.Close)

	prefix := fmt.Sprintf("it%d_", time.Now().UnixNano())
	tables := postgres.NewTableNames(prefix)
	if err := EnsureSchema(ctx, pool, tables); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+tables.AgentTurns+", "+tables.AgentThreads)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger}
	return NewTurnStore(cfg, postgres.NewTransactionManager(pool, logger)).(*PostgresTurnStore)
}

func turnFor(threadID, userID, query string, total int) *models.Turn {
	usage := models.NewTokenUsage(total-5, 0, 5, 0, total)
	return &models.Turn{
		ThreadID: threadID,
		UserID:   userID,
		Input:    query,
		Output:   []models.Event{models.ContentEvent("answer"), models.DoneEvent()},
		RawItems: models.Items{
			&models.UserMessage{Content: query},
			&models.AssistantMessage{Content: []models.OutputText{{Text: "answer"}}},
		},
		Metadata: models.TurnMetadata{LastTokenUsage: &usage, Tags: []string{"intent:etf"}},
	}
}

func TestPostgresTurnStore_RoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	items, _, err := store.LoadLatest(ctx, "t1")
	if err != nil || len(items) != 0 {
		t.Fatalf("LoadLatest() on empty thread = %v, %v", items, err)
	}
	if _, err := store.GetThread(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetThread() error = %v, want ErrNotFound", err)
	}

	for i, q := range []string{"first", "second", "third"} {
		turn := turnFor("t1", "u1", q, 100*(i+1))
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn(%q) error = %v", q, err)
		}
		if turn.ID == "" || turn.CreatedAt.IsZero() {
			t.Errorf("AppendTurn(%q) did not set id/created_at", q)
		}
	}
	// another user writing to the same thread does not take it over
	if err := store.AppendTurn(ctx, turnFor("t1", "u2", "intruder", 50)); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	items, meta, err := store.LoadLatest(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	if got := items[0].(*models.UserMessage).Content; got != "intruder" {
		t.Errorf("latest turn input = %q", got)
	}
	if meta.PriorTotalTokens() != 50 || !meta.HasTag("intent:etf") {
		t.Errorf("metadata = %+v", meta)
	}

	thread, err := store.GetThread(ctx, "t1")
	if err != nil || thread.UserID != "u1" {
		t.Errorf("GetThread() = %+v, %v; want owner u1", thread, err)
	}

	turns, err := store.ListTurns(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Input != "third" || turns[1].Input != "intruder" {
		t.Errorf("ListTurns() = %+v", turns)
	}
}

func TestPostgresTurnStore_AppendJoinsEnclosingTransaction(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	rollback := errors.New("abort")
	err := store.tm.ExecTx(ctx, func(txCtx context.Context) error {
		if err := store.AppendTurn(txCtx, turnFor("t2", "u1", "q", 10)); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("ExecTx() error = %v, want %v", err, rollback)
	}

	if _, err := store.GetThread(ctx, "t2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetThread() error = %v, want ErrNotFound after rollback", err)
	}
	items, _, err := store.LoadLatest(ctx, "t2")
	if err != nil || len(items) != 0 {
		t.Errorf("LoadLatest() = %v, %v; want empty after rollback", items, err)
	}
}
