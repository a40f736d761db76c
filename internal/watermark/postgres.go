package watermark

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	"github.com/landrecords-sl/etl-pipeline/internal/storage/postgres"
)

// PostgresStore persists watermarks to the pipeline_watermarks table, shared
// by every orchestrator replica.
type PostgresStore struct {
	base *postgres.BaseStore
}

// NewPostgresStore constructs a PostgresStore around an already-connected pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{base: postgres.NewBaseStore(db, "pipeline_watermarks")}
}

// Get returns the stored watermark, or a zero-value one if pipelineName has
// never run.
func (s *PostgresStore) Get(ctx context.Context, pipelineName string) (domain.Watermark, error) {
	var lastRun sql.NullTime
	var extractedRaw []byte

	err := s.base.QueryRowContext(ctx,
		`SELECT last_successful_run_at, last_extracted_at FROM pipeline_watermarks WHERE pipeline_name = $1`,
		pipelineName,
	).Scan(&lastRun, &extractedRaw)

	if err == sql.ErrNoRows {
		return domain.Watermark{LastExtractedAt: map[string]time.Time{}}, nil
	}
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("get watermark: %w", err)
	}

	extracted := map[string]time.Time{}
	if len(extractedRaw) > 0 {
		if err := json.Unmarshal(extractedRaw, &extracted); err != nil {
			return domain.Watermark{}, fmt.Errorf("decode watermark: %w", err)
		}
	}

	mark := domain.Watermark{LastExtractedAt: extracted}
	if lastRun.Valid {
		mark.LastSuccessfulRunAt = lastRun.Time
	}
	return mark, nil
}

// Set upserts the watermark for pipelineName.
func (s *PostgresStore) Set(ctx context.Context, pipelineName string, mark domain.Watermark) error {
	extractedRaw, err := json.Marshal(mark.LastExtractedAt)
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}

	_, err = s.base.ExecContext(ctx, `
		INSERT INTO pipeline_watermarks (pipeline_name, last_successful_run_at, last_extracted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (pipeline_name) DO UPDATE SET
			last_successful_run_at = EXCLUDED.last_successful_run_at,
			last_extracted_at = EXCLUDED.last_extracted_at
	`, pipelineName, postgres.PtrToNullTime(nonZeroTime(mark.LastSuccessfulRunAt)), extractedRaw)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

func nonZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
