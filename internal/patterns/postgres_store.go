package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

const patternsSchema = `
CREATE TABLE IF NOT EXISTS patterns (
    id          TEXT PRIMARY KEY,
    service     TEXT NOT NULL,
    kind        TEXT NOT NULL,
    extracted_at TIMESTAMPTZ NOT NULL,
    doc         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS patterns_service_idx ON patterns (service);
`

// PostgresStore keeps each pattern as a JSONB document keyed by pattern ID.
// Conflicting inserts are ignored, which makes repeated saves of the same
// batch idempotent.
type PostgresStore struct {
	logger *slog.Logger
	db     *sqlx.DB
}

// NewPostgresStore connects, pings and ensures the schema exists.
func NewPostgresStore(logger *slog.Logger, cfg config.PostgresConfig) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := db.Exec(patternsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{logger: logger, db: db}, nil
}

func (s *PostgresStore) SavePatterns(ctx context.Context, patterns []models.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError("patterns.postgres.save", utils.KindPersistence, "begin transaction", err)
	}
	defer tx.Rollback()

	const insert = `
        INSERT INTO patterns (id, service, kind, extracted_at, doc)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING`
	for _, p := range patterns {
		doc, err := json.Marshal(p)
		if err != nil {
			return utils.NewAppError("patterns.postgres.save", utils.KindPersistence, "encode pattern", err)
		}
		if _, err := tx.ExecContext(ctx, insert, p.ID, p.Service, string(p.Kind), p.ExtractedAt, doc); err != nil {
			return utils.NewAppError("patterns.postgres.save", utils.KindPersistence, "insert pattern", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError("patterns.postgres.save", utils.KindPersistence, "commit", err)
	}
	return nil
}

func (s *PostgresStore) LoadPatterns(ctx context.Context) ([]models.Pattern, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT doc FROM patterns ORDER BY extracted_at, id`)
	if err != nil {
		return nil, utils.NewAppError("patterns.postgres.load", utils.KindPersistence, "query patterns", err)
	}
	defer rows.Close()

	var patterns []models.Pattern
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, utils.NewAppError("patterns.postgres.load", utils.KindPersistence, "scan pattern row", err)
		}
		var p models.Pattern
		if err := json.Unmarshal(doc, &p); err != nil {
			s.logger.Warn("skipping undecodable pattern row", "error", err)
			continue
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("patterns.postgres.load", utils.KindPersistence, "iterate patterns", err)
	}
	return patterns, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
