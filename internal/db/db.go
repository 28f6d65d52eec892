package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evidence-rag/internal/config"
	"evidence-rag/internal/history"
	"evidence-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// HistoryRow is one answered question. Evidence images are not stored; they
// are re-rendered from the box on demand.
type HistoryRow struct {
	bun.BaseModel `bun:"table:history,alias:h"`
	Seq           int64             `bun:"seq,pk,autoincrement"`
	ID            string            `bun:"id,notnull,unique"`
	Question      string            `bun:"question,notnull"`
	Answer        string            `bun:"answer,notnull"`
	Candidates    []models.Chunk    `bun:"candidates,type:jsonb"`
	Evidence      []models.Evidence `bun:"evidence,type:jsonb"`
	Diagnostics   []string          `bun:"diagnostics,type:jsonb"`
	AskedAt       time.Time         `bun:"asked_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dbConfig *config.DatabaseConfig) (*sql.DB, error) {
	if dbConfig.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dbConfig.DSN))), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*HistoryRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}
	return nil
}

func toRow(rec models.Record) *HistoryRow {
	return &HistoryRow{
		ID:          rec.ID,
		Question:    rec.Question,
		Answer:      rec.Answer,
		Candidates:  rec.Candidates,
		Evidence:    rec.Evidence,
		Diagnostics: rec.Diagnostics,
		AskedAt:     rec.AskedAt,
	}
}

func (r *HistoryRow) record() models.Record {
	return models.Record{
		ID:          r.ID,
		Question:    r.Question,
		Answer:      r.Answer,
		Candidates:  r.Candidates,
		Evidence:    r.Evidence,
		Diagnostics: r.Diagnostics,
		AskedAt:     r.AskedAt,
	}
}

// HistoryStore persists history in Postgres so it survives restarts.
type HistoryStore struct {
	db *bun.DB
}

var _ history.Store = (*HistoryStore)(nil)

func NewHistoryStore(db *bun.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Append(ctx context.Context, rec models.Record) error {
	row := toRow(rec)
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	log.Debug().Str("id", rec.ID).Int64("seq", row.Seq).Msg("Stored history entry")
	return nil
}

func (s *HistoryStore) List(ctx context.Context) ([]models.Record, error) {
	var rows []HistoryRow
	err := s.db.NewSelect().
		Model(&rows).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	out := make([]models.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

func (s *HistoryStore) Get(ctx context.Context, id string) (models.Record, error) {
	var row HistoryRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, history.ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to get history entry %s: %w", id, err)
	}
	return row.record(), nil
}

func (s *HistoryStore) Len(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*HistoryRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Ping checks the connection for the health endpoint.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
