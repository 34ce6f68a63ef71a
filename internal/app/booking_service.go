package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlastrails/booking-api/internal/clock"
	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/atlastrails/booking-api/internal/gateway"
	"github.com/google/uuid"
)

// CapacityLedger tracks consumed seats per experience. Reserve and Release
// must be atomic conditional updates in the backing store; no in-process
// lock substitutes, since finalizers may run on other instances.
type CapacityLedger interface {
	Reserve(ctx context.Context, experienceID string, amount int) error
	Release(ctx context.Context, experienceID string, amount int) error
	Commit(ctx context.Context, experienceID string, amount int) error
	Availability(ctx context.Context, experienceID string) (available, total int, err error)
}

// RegistrationStore persists booking attempts. Transition is conditional on
// the stored state still being pending.
type RegistrationStore interface {
	CreatePending(ctx context.Context, reg domain.Registration) error
	Get(ctx context.Context, id string) (domain.Registration, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Registration, error)
	Transition(ctx context.Context, id string, to domain.PaymentStatus, now time.Time) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Registration, error)
	SaveSession(ctx context.Context, session domain.PaymentSession) error
	GetByTransactionID(ctx context.Context, transactionID string) (domain.Registration, domain.PaymentSession, error)
	GetSession(ctx context.Context, registrationID string) (domain.PaymentSession, error)
}

// Each registration consumes one seat regardless of its line items.
const seatsPerRegistration = 1

type BookingService struct {
	ledger      CapacityLedger
	store       RegistrationStore
	gateway     gateway.Client
	clock       clock.Clock
	redirectURL string
	callbackURL string
}

type BookingServiceOption func(*BookingService)

// WithReturnURLs sets the URLs the gateway redirects to and calls back on.
func WithReturnURLs(redirectURL, callbackURL string) BookingServiceOption {
	return func(s *BookingService) {
		s.redirectURL = redirectURL
		s.callbackURL = callbackURL
	}
}

func NewBookingService(ledger CapacityLedger, store RegistrationStore, gw gateway.Client, clk clock.Clock, opts ...BookingServiceOption) *BookingService {
	svc := &BookingService{
		ledger:  ledger,
		store:   store,
		gateway: gw,
		clock:   clk,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateBookingInput struct {
	UserID         string
	ExperienceID   string
	PricingLines   []domain.LineItem
	FoodLines      []domain.LineItem
	IdempotencyKey string
}

type CreateBookingResult struct {
	Registration  domain.Registration
	TransactionID string
	RedirectURL   string
	Created       bool
}

// CreateBooking reserves a seat, records a pending registration, and hands
// off to the payment gateway. The reserve and the pending write are a
// logical unit: any failure after a successful reserve releases the seat
// before the error is returned.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (CreateBookingResult, error) {
	if err := validateBookingInput(in); err != nil {
		return CreateBookingResult{}, err
	}

	if existing, err := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
		return CreateBookingResult{}, err
	} else if existing != nil {
		return s.replay(ctx, *existing, in)
	}

	if err := s.ledger.Reserve(ctx, in.ExperienceID, seatsPerRegistration); err != nil {
		return CreateBookingResult{}, err
	}

	now := s.clock.Now()
	reg := domain.Registration{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		ExperienceID:   in.ExperienceID,
		PricingLines:   in.PricingLines,
		FoodLines:      in.FoodLines,
		TotalAmount:    domain.ComputeTotal(in.PricingLines, in.FoodLines),
		PaymentStatus:  domain.PaymentStatusPending,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreatePending(ctx, reg); err != nil {
		// Compensate: the seat was reserved but nothing durable records it.
		if relErr := s.ledger.Release(ctx, in.ExperienceID, seatsPerRegistration); relErr != nil {
			return CreateBookingResult{}, fmt.Errorf("create pending: %w (release failed: %v)", err, relErr)
		}
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			// A concurrent duplicate won the insert; fall back to its row.
			existing, findErr := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if findErr != nil {
				return CreateBookingResult{}, findErr
			}
			if existing != nil {
				return s.replay(ctx, *existing, in)
			}
		}
		return CreateBookingResult{}, err
	}

	transactionID := uuid.NewString()
	session, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		TransactionID: transactionID,
		Amount:        reg.TotalAmount,
		UserID:        in.UserID,
		RedirectURL:   s.redirectURL,
		CallbackURL:   s.callbackURL,
	})
	if err != nil {
		s.abandon(ctx, reg)
		return CreateBookingResult{}, err
	}

	merchant := s.gateway.Merchant()
	if err := s.store.SaveSession(ctx, domain.PaymentSession{
		TransactionID:  session.TransactionID,
		RegistrationID: reg.ID,
		MerchantID:     merchant.ID,
		KeyIndex:       merchant.KeyIndex,
		Sandbox:        merchant.Sandbox,
		CreatedAt:      now,
	}); err != nil {
		// Without a session the payment can never be reconciled.
		s.abandon(ctx, reg)
		return CreateBookingResult{}, err
	}

	return CreateBookingResult{
		Registration:  reg,
		TransactionID: session.TransactionID,
		RedirectURL:   session.RedirectURL,
		Created:       true,
	}, nil
}

// GetBooking returns one registration for display.
func (s *BookingService) GetBooking(ctx context.Context, id string) (domain.Registration, error) {
	if id == "" {
		return domain.Registration{}, domain.ErrInvalidID
	}
	return s.store.Get(ctx, id)
}

// replay returns the registration already created under this idempotency
// key, provided the caller is retrying the same booking rather than reusing
// the key for a different one.
func (s *BookingService) replay(ctx context.Context, existing domain.Registration, in CreateBookingInput) (CreateBookingResult, error) {
	if existing.UserID != in.UserID ||
		existing.ExperienceID != in.ExperienceID ||
		existing.TotalAmount != domain.ComputeTotal(in.PricingLines, in.FoodLines) {
		return CreateBookingResult{}, domain.ErrIdempotencyConflict
	}

	result := CreateBookingResult{Registration: existing, Created: false}
	session, err := s.store.GetSession(ctx, existing.ID)
	if err == nil {
		result.TransactionID = session.TransactionID
	} else if !errors.Is(err, domain.ErrSessionNotFound) {
		return CreateBookingResult{}, err
	}
	return result, nil
}

// abandon fails a registration whose payment never started and returns its
// seat. Transition losing to a concurrent finalizer means the seat is
// already accounted for, so the release is skipped.
func (s *BookingService) abandon(ctx context.Context, reg domain.Registration) {
	err := s.store.Transition(ctx, reg.ID, domain.PaymentStatusFailed, s.clock.Now())
	if err != nil {
		return
	}
	_ = s.ledger.Release(ctx, reg.ExperienceID, seatsPerRegistration)
}

func validateBookingInput(in CreateBookingInput) error {
	if in.UserID == "" {
		return domain.ErrUserRequired
	}
	if in.ExperienceID == "" {
		return domain.ErrInvalidID
	}
	if in.IdempotencyKey == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if len(in.PricingLines) == 0 {
		return domain.ErrPricingLinesRequired
	}
	for _, line := range in.PricingLines {
		if line.Amount < 0 || line.Quantity < 0 {
			return domain.ErrInvalidLineItem
		}
	}
	for _, line := range in.FoodLines {
		if line.Amount < 0 || line.Quantity < 0 {
			return domain.ErrInvalidLineItem
		}
	}
	return nil
}
