// Command migrate-json-to-postgres moves media records from the JSON
// datastore into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/media.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("MEDIAFORGE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, MEDIAFORGE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", *jsonPath,
		"media", counts.Media, "ready", counts.Ready, "transcoding", counts.Transcoding, "failed", counts.Failed)

	repo, err := storage.NewPostgresRepository(dsn)
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = repo.Close(context.Background())
	}()

	if err := storage.ImportSnapshotToPostgres(context.Background(), repo, snapshot); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}

	if err := verifyCount(context.Background(), dsn, counts.Media); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "media", counts.Media)
}

// verifyCount checks the row count over a fresh connection rather than the
// repository pool, so a misrouted DSN cannot self-verify.
func verifyCount(ctx context.Context, dsn string, expected int) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	var actual int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM media").Scan(&actual); err != nil {
		return fmt.Errorf("count media rows: %w", err)
	}
	if actual < expected {
		return fmt.Errorf("expected at least %d media rows, found %d", expected, actual)
	}
	return nil
}
