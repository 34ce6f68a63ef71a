package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegistrationRepository persists booking attempts and their payment
// sessions. Transition is the single gate for finalization: a conditional
// update on payment_status guarantees at most one effective transition no
// matter how many finalizers race.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

func (r *RegistrationRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *RegistrationRepository) CreatePending(ctx context.Context, reg domain.Registration) error {
	pricing, err := json.Marshal(reg.PricingLines)
	if err != nil {
		return fmt.Errorf("marshal pricing lines: %w", err)
	}
	food, err := json.Marshal(emptyIfNil(reg.FoodLines))
	if err != nil {
		return fmt.Errorf("marshal food lines: %w", err)
	}

	const stmt = `
INSERT INTO registrations (id, user_id, experience_id, pricing_lines, food_lines, total_amount, payment_status, idempotency_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	_, err = r.exec(ctx, stmt,
		reg.ID,
		reg.UserID,
		reg.ExperienceID,
		pricing,
		food,
		reg.TotalAmount,
		domain.PaymentStatusPending,
		reg.IdempotencyKey,
		reg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) Get(ctx context.Context, id string) (domain.Registration, error) {
	const query = `
SELECT id, user_id, experience_id, pricing_lines, food_lines, total_amount, payment_status, idempotency_key, created_at, updated_at
FROM registrations
WHERE id = $1`

	reg, err := r.scanRegistration(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Registration{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Registration{}, domain.ErrRegistrationNotFound
		}
		return domain.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Registration, error) {
	const query = `
SELECT id, user_id, experience_id, pricing_lines, food_lines, total_amount, payment_status, idempotency_key, created_at, updated_at
FROM registrations
WHERE idempotency_key = $1`

	reg, err := r.scanRegistration(r.queryRow(ctx, query, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find registration by idempotency key: %w", err)
	}
	return &reg, nil
}

// Transition moves a pending registration to a terminal state. Zero rows
// affected means another finalizer already won, or the id is unknown.
func (r *RegistrationRepository) Transition(ctx context.Context, id string, to domain.PaymentStatus, now time.Time) error {
	const stmt = `
UPDATE registrations
SET payment_status = $2, updated_at = $3
WHERE id = $1 AND payment_status = $4`

	tag, err := r.exec(ctx, stmt, id, to, now, domain.PaymentStatusPending)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("transition registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("transition registration: %w", err)
		}
		if !exists {
			return domain.ErrRegistrationNotFound
		}
		return domain.ErrAlreadyTerminal
	}
	return nil
}

// ListStalePending returns pending registrations created before the cutoff,
// with their transaction ids when a payment session exists.
func (r *RegistrationRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Registration, error) {
	const query = `
SELECT id, user_id, experience_id, pricing_lines, food_lines, total_amount, payment_status, idempotency_key, created_at, updated_at
FROM registrations
WHERE payment_status = $1 AND created_at < $2
ORDER BY created_at ASC
LIMIT $3`

	rows, err := r.query(ctx, query, domain.PaymentStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Registration
	for rows.Next() {
		reg, err := r.scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (r *RegistrationRepository) SaveSession(ctx context.Context, session domain.PaymentSession) error {
	const stmt = `
INSERT INTO payment_sessions (transaction_id, registration_id, merchant_id, key_index, sandbox, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec(ctx, stmt,
		session.TransactionID,
		session.RegistrationID,
		session.MerchantID,
		session.KeyIndex,
		session.Sandbox,
		session.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save payment session: %w", domain.ErrIdempotencyConflict)
		}
		return fmt.Errorf("save payment session: %w", err)
	}
	return nil
}

// GetByTransactionID resolves a gateway transaction back to its
// registration and session.
func (r *RegistrationRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Registration, domain.PaymentSession, error) {
	const query = `
SELECT r.id, r.user_id, r.experience_id, r.pricing_lines, r.food_lines, r.total_amount, r.payment_status, r.idempotency_key, r.created_at, r.updated_at,
       s.transaction_id, s.registration_id, s.merchant_id, s.key_index, s.sandbox, s.created_at
FROM payment_sessions s
JOIN registrations r ON r.id = s.registration_id
WHERE s.transaction_id = $1`

	var (
		reg     domain.Registration
		session domain.PaymentSession
		pricing []byte
		food    []byte
	)
	err := r.queryRow(ctx, query, transactionID).Scan(
		&reg.ID, &reg.UserID, &reg.ExperienceID, &pricing, &food, &reg.TotalAmount, &reg.PaymentStatus, &reg.IdempotencyKey, &reg.CreatedAt, &reg.UpdatedAt,
		&session.TransactionID, &session.RegistrationID, &session.MerchantID, &session.KeyIndex, &session.Sandbox, &session.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Registration{}, domain.PaymentSession{}, domain.ErrSessionNotFound
		}
		return domain.Registration{}, domain.PaymentSession{}, fmt.Errorf("get by transaction id: %w", err)
	}
	if err := json.Unmarshal(pricing, &reg.PricingLines); err != nil {
		return domain.Registration{}, domain.PaymentSession{}, fmt.Errorf("decode pricing lines: %w", err)
	}
	if err := json.Unmarshal(food, &reg.FoodLines); err != nil {
		return domain.Registration{}, domain.PaymentSession{}, fmt.Errorf("decode food lines: %w", err)
	}
	return reg, session, nil
}

// GetSession returns the payment session for a registration, or
// ErrSessionNotFound when payment was never initiated.
func (r *RegistrationRepository) GetSession(ctx context.Context, registrationID string) (domain.PaymentSession, error) {
	const query = `
SELECT transaction_id, registration_id, merchant_id, key_index, sandbox, created_at
FROM payment_sessions
WHERE registration_id = $1`

	var s domain.PaymentSession
	err := r.queryRow(ctx, query, registrationID).
		Scan(&s.TransactionID, &s.RegistrationID, &s.MerchantID, &s.KeyIndex, &s.Sandbox, &s.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.PaymentSession{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.PaymentSession{}, domain.ErrSessionNotFound
		}
		return domain.PaymentSession{}, fmt.Errorf("get payment session: %w", err)
	}
	return s, nil
}

func (r *RegistrationRepository) scanRegistration(row pgx.Row) (domain.Registration, error) {
	var (
		reg     domain.Registration
		pricing []byte
		food    []byte
	)
	err := row.Scan(&reg.ID, &reg.UserID, &reg.ExperienceID, &pricing, &food, &reg.TotalAmount, &reg.PaymentStatus, &reg.IdempotencyKey, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return domain.Registration{}, err
	}
	if err := json.Unmarshal(pricing, &reg.PricingLines); err != nil {
		return domain.Registration{}, fmt.Errorf("decode pricing lines: %w", err)
	}
	if err := json.Unmarshal(food, &reg.FoodLines); err != nil {
		return domain.Registration{}, fmt.Errorf("decode food lines: %w", err)
	}
	return reg, nil
}

func emptyIfNil(lines []domain.LineItem) []domain.LineItem {
	if lines == nil {
		return []domain.LineItem{}
	}
	return lines
}

func (r *RegistrationRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *RegistrationRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *RegistrationRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
