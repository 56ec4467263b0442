// Package archive persists a durable record of finished conversions. The
// in-memory registry is authoritative for live jobs; the archive is a
// write-behind audit trail that survives restarts and retention eviction.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/shared/postgresql"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	job_id         TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	progress       INT NOT NULL,
	scale          DOUBLE PRECISION NOT NULL,
	bodygroup_name TEXT NOT NULL,
	input_file     TEXT NOT NULL,
	outputs        TEXT NOT NULL,
	failure        JSONB,
	log_lines      INT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ NOT NULL,
	archived_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store archives terminal jobs to PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates the store and ensures the archive table exists.
func NewStore(pg *postgresql.Client, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:     pg.GetDB(),
		logger: logger,
	}

	if _, err := s.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return s, nil
}

// InsertTerminal records one finished job. Re-archiving the same job id is a
// no-op so hook retries stay idempotent.
func (s *Store) InsertTerminal(ctx context.Context, j job.Job) error {
	query := `
		INSERT INTO conversion_jobs (
			job_id, status, progress, scale, bodygroup_name,
			input_file, outputs, failure, log_lines, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	var failure any
	if j.Err != nil {
		data, err := json.Marshal(j.Err)
		if err != nil {
			return fmt.Errorf("failed to encode failure: %w", err)
		}
		failure = string(data)
	}

	completedAt := j.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	_, err := s.db.ExecContext(
		ctx,
		query,
		j.ID,
		string(j.Status),
		j.Progress,
		j.Options.Scale,
		j.Options.BodygroupName,
		j.InputPath,
		strings.Join(j.OutputPaths, ","),
		failure,
		len(j.Log),
		j.CreatedAt,
		completedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}

	s.logger.Debug("Job archived",
		slog.String("job_id", j.ID),
		slog.String("status", string(j.Status)),
	)
	return nil
}

// TerminalHook adapts the store to the registry's terminal hook. Archive
// failures are logged and dropped; the conversion outcome already stands.
func (s *Store) TerminalHook() job.TerminalHook {
	return func(j job.Job) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.InsertTerminal(ctx, j); err != nil {
			s.logger.Error("Failed to archive terminal job",
				slog.String("job_id", j.ID),
				slog.Any("error", err),
			)
		}
	}
}
