package postgres

import (
	"context"
	"fmt"

	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExperienceRepository owns the experiences table, including the capacity
// counter. Reserve and Release are single conditional statements so the
// sold-out check and the counter mutation cannot interleave across
// concurrent requests or server instances.
type ExperienceRepository struct {
	pool *pgxpool.Pool
}

func NewExperienceRepository(pool *pgxpool.Pool) *ExperienceRepository {
	return &ExperienceRepository{pool: pool}
}

func (r *ExperienceRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *ExperienceRepository) Create(ctx context.Context, exp domain.Experience) error {
	const stmt = `
INSERT INTO experiences (id, name, location, description, total_capacity, current_participants, created_at)
VALUES ($1, $2, $3, $4, $5, 0, $6)`

	_, err := r.exec(ctx, stmt,
		exp.ID,
		exp.Name,
		exp.Location,
		exp.Description,
		exp.TotalCapacity,
		exp.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create experience: %w", err)
	}
	return nil
}

func (r *ExperienceRepository) List(ctx context.Context) ([]domain.Experience, error) {
	const query = `
SELECT id, name, location, description, total_capacity, current_participants, created_at
FROM experiences
ORDER BY created_at DESC`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list experiences: %w", err)
	}
	defer rows.Close()

	var out []domain.Experience
	for rows.Next() {
		var e domain.Experience
		if err := rows.Scan(&e.ID, &e.Name, &e.Location, &e.Description, &e.TotalCapacity, &e.CurrentParticipants, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan experience: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExperienceRepository) Get(ctx context.Context, id string) (domain.Experience, error) {
	const query = `
SELECT id, name, location, description, total_capacity, current_participants, created_at
FROM experiences
WHERE id = $1`

	var e domain.Experience
	err := r.queryRow(ctx, query, id).
		Scan(&e.ID, &e.Name, &e.Location, &e.Description, &e.TotalCapacity, &e.CurrentParticipants, &e.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Experience{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Experience{}, domain.ErrExperienceNotFound
		}
		return domain.Experience{}, fmt.Errorf("get experience: %w", err)
	}
	return e, nil
}

// Availability returns (available, total) for one experience.
func (r *ExperienceRepository) Availability(ctx context.Context, id string) (int, int, error) {
	const query = `
SELECT total_capacity - current_participants, total_capacity
FROM experiences
WHERE id = $1`

	var available, total int
	err := r.queryRow(ctx, query, id).Scan(&available, &total)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, 0, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return 0, 0, domain.ErrExperienceNotFound
		}
		return 0, 0, fmt.Errorf("availability: %w", err)
	}
	return available, total, nil
}

// Reserve consumes amount seats if and only if they fit within the total
// capacity. Zero rows affected means either the experience does not exist
// or it is sold out; the follow-up existence check disambiguates.
func (r *ExperienceRepository) Reserve(ctx context.Context, id string, amount int) error {
	const stmt = `
UPDATE experiences
SET current_participants = current_participants + $2
WHERE id = $1 AND current_participants + $2 <= total_capacity`

	tag, err := r.exec(ctx, stmt, id, amount)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("reserve capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrExperienceNotFound
		}
		return domain.ErrCapacityExhausted
	}
	return nil
}

// Release returns amount seats after a failed or abandoned registration.
// The guard keeps the counter from going negative if a release is replayed.
func (r *ExperienceRepository) Release(ctx context.Context, id string, amount int) error {
	const stmt = `
UPDATE experiences
SET current_participants = current_participants - $2
WHERE id = $1 AND current_participants >= $2`

	tag, err := r.exec(ctx, stmt, id, amount)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("release capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrExperienceNotFound
		}
		return domain.ErrLedgerDrift
	}
	return nil
}

// Commit confirms a prior reserve. Capacity was consumed at reserve time,
// so this only verifies the counter still covers the committed amount.
func (r *ExperienceRepository) Commit(ctx context.Context, id string, amount int) error {
	const query = `SELECT current_participants >= $2 FROM experiences WHERE id = $1`

	var covered bool
	err := r.queryRow(ctx, query, id, amount).Scan(&covered)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.ErrExperienceNotFound
		}
		return fmt.Errorf("commit capacity: %w", err)
	}
	if !covered {
		return domain.ErrLedgerDrift
	}
	return nil
}

func (r *ExperienceRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM experiences WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("experience exists: %w", err)
	}
	return exists, nil
}

func (r *ExperienceRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *ExperienceRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *ExperienceRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
