// Package postgres keeps render job state in PostgreSQL. Every transition is
// a single UPDATE guarded by status = 'rendering', so the terminal check and
// the write cannot interleave with another process.
package postgres

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

const jobColumns = `id, composition_id, status, progress, error, result_url, result_key, result_size_bytes, created_at, finished_at`

type Store struct {
	db *pgxpool.Pool
	// now stamps finished_at with the process clock, the same clock the
	// janitor computes its cutoff from.
	now func() time.Time
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: time.Now}
}

// Connect opens a pool and checks it answers.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies the embedded migrations in file order. They are
// idempotent, so running them on every start is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Backend() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "postgres.Ping", "database unavailable")
	}
	return nil
}

func (s *Store) Seed(ctx context.Context, job models.RenderJob) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO render_jobs (id, composition_id, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, job.CompositionID, string(job.Status), models.ClampProgress(job.Progress), job.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return errors.New(errors.CodeAlreadyExists, "render job already exists: "+job.ID)
		}
		return unavailable(err, "postgres.Seed")
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p float64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE render_jobs SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND status = 'rendering'
	`, id, models.ClampProgress(p))
	if err != nil {
		return unavailable(err, "postgres.UpdateProgress")
	}
	return s.checkApplied(ctx, tag, id)
}

func (s *Store) Complete(ctx context.Context, id string, a models.Artifact) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE render_jobs
		SET status = 'done', progress = 1, result_url = $2, result_key = $3,
		    result_size_bytes = $4, finished_at = $5
		WHERE id = $1 AND status = 'rendering'
	`, id, a.URL, a.Key, a.SizeBytes, s.now().UTC())
	if err != nil {
		return unavailable(err, "postgres.Complete")
	}
	return s.checkApplied(ctx, tag, id)
}

func (s *Store) Fail(ctx context.Context, id string, message string) error {
	return s.finish(ctx, id, models.StatusError, message)
}

func (s *Store) Cancel(ctx context.Context, id string, reason string) error {
	return s.finish(ctx, id, models.StatusCancelled, reason)
}

func (s *Store) finish(ctx context.Context, id string, status models.Status, message string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE render_jobs SET status = $2, error = $3, finished_at = $4
		WHERE id = $1 AND status = 'rendering'
	`, id, string(status), message, s.now().UTC())
	if err != nil {
		return unavailable(err, "postgres.finish")
	}
	return s.checkApplied(ctx, tag, id)
}

// checkApplied explains a guarded UPDATE that touched no row: either the job
// does not exist or it is already terminal.
func (s *Store) checkApplied(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM render_jobs WHERE id = $1`, id).Scan(&status)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("render job", id)
	}
	if err != nil {
		return unavailable(err, "postgres.checkApplied")
	}
	return errors.Conflict("render job is already "+status).WithField("id", id)
}

func (s *Store) Get(ctx context.Context, id string) (models.RenderJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return models.RenderJob{}, errors.NotFound("render job", id)
	}
	if err != nil {
		return models.RenderJob{}, unavailable(err, "postgres.Get")
	}
	return j, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]models.RenderJob, error) {
	q := `SELECT ` + jobColumns + ` FROM render_jobs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err, "postgres.List")
	}
	defer rows.Close()

	out := []models.RenderJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, unavailable(err, "postgres.List")
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "postgres.List")
	}
	return out, nil
}

func (s *Store) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM render_jobs
		WHERE status <> 'rendering' AND finished_at IS NOT NULL AND finished_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, unavailable(err, "postgres.Evict")
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (models.RenderJob, error) {
	var (
		j      models.RenderJob
		status string
	)
	err := row.Scan(&j.ID, &j.CompositionID, &status, &j.Progress, &j.Error,
		&j.ResultURL, &j.ResultKey, &j.ResultSizeBytes, &j.CreatedAt, &j.FinishedAt)
	if err != nil {
		return models.RenderJob{}, err
	}
	j.Status = models.Status(status)
	j.CreatedAt = j.CreatedAt.UTC()
	if j.FinishedAt != nil {
		t := j.FinishedAt.UTC()
		j.FinishedAt = &t
	}
	return j, nil
}

func unavailable(err error, op string) error {
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "job store unavailable")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
