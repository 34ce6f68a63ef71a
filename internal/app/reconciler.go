package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/atlastrails/booking-api/internal/clock"
	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/atlastrails/booking-api/internal/gateway"
)

// Reconciler drives pending registrations to a terminal state. Status
// polls, gateway callbacks, and the timeout sweep all funnel through the
// same conditional transition, so whichever finalizer arrives first wins
// and the rest become no-ops.
type Reconciler struct {
	store      RegistrationStore
	ledger     CapacityLedger
	gateway    gateway.Client
	clock      clock.Clock
	logger     *log.Logger
	pendingTTL time.Duration
	sweepLimit int
}

const (
	defaultPendingTTL = 30 * time.Minute
	defaultSweepLimit = 100
)

type ReconcilerOption func(*Reconciler)

// WithPendingTTL overrides how long a registration may stay pending before
// the sweeper fails it and returns its seat.
func WithPendingTTL(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.pendingTTL = d
		}
	}
}

func NewReconciler(store RegistrationStore, ledger CapacityLedger, gw gateway.Client, clk clock.Clock, logger *log.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	rec := &Reconciler{
		store:      store,
		ledger:     ledger,
		gateway:    gw,
		clock:      clk,
		logger:     logger,
		pendingTTL: defaultPendingTTL,
		sweepLimit: defaultSweepLimit,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// Finalize polls the gateway for a transaction and applies the outcome.
// Already-terminal registrations are answered locally without a remote
// call; a pending gateway answer leaves everything untouched.
func (r *Reconciler) Finalize(ctx context.Context, transactionID string) (domain.PaymentStatus, error) {
	reg, _, err := r.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if reg.PaymentStatus.Terminal() {
		return reg.PaymentStatus, nil
	}

	result, err := r.gateway.CheckStatus(ctx, transactionID)
	if err != nil {
		return "", err
	}
	return r.apply(ctx, reg, result.Status)
}

// HandleCallback verifies and applies an asynchronous gateway notification.
// Duplicate or out-of-order deliveries land on the terminal-state guard and
// change nothing.
func (r *Reconciler) HandleCallback(ctx context.Context, body []byte, verify string) (domain.PaymentStatus, error) {
	note, err := r.gateway.DecodeCallback(body, verify)
	if err != nil {
		return "", err
	}

	reg, _, err := r.store.GetByTransactionID(ctx, note.TransactionID)
	if err != nil {
		return "", err
	}
	if reg.PaymentStatus.Terminal() {
		return reg.PaymentStatus, nil
	}
	return r.apply(ctx, reg, note.Status)
}

// apply performs the single effective transition for a gateway outcome.
// The conditional Transition is the only gate: losing it means another
// finalizer already resolved the registration, and no ledger mutation may
// follow.
func (r *Reconciler) apply(ctx context.Context, reg domain.Registration, status gateway.Status) (domain.PaymentStatus, error) {
	switch status {
	case gateway.StatusPending:
		return domain.PaymentStatusPending, nil

	case gateway.StatusCompleted:
		err := r.store.Transition(ctx, reg.ID, domain.PaymentStatusCompleted, r.clock.Now())
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return r.terminalStatus(ctx, reg, domain.PaymentStatusCompleted)
		}
		if err != nil {
			return "", err
		}
		// Capacity was consumed at reserve time; commit only validates.
		if err := r.ledger.Commit(ctx, reg.ExperienceID, seatsPerRegistration); err != nil {
			r.logger.Printf("WARN: ledger commit registration=%s experience=%s: %v", reg.ID, reg.ExperienceID, err)
		}
		return domain.PaymentStatusCompleted, nil

	case gateway.StatusFailed:
		err := r.store.Transition(ctx, reg.ID, domain.PaymentStatusFailed, r.clock.Now())
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return r.terminalStatus(ctx, reg, domain.PaymentStatusFailed)
		}
		if err != nil {
			return "", err
		}
		if err := r.ledger.Release(ctx, reg.ExperienceID, seatsPerRegistration); err != nil {
			r.logger.Printf("WARN: ledger release registration=%s experience=%s: %v", reg.ID, reg.ExperienceID, err)
		}
		return domain.PaymentStatusFailed, nil

	default:
		return "", domain.ErrGatewayUnavailable
	}
}

// terminalStatus re-reads a registration that turned out to be terminal and
// reports its stored state. A completed gateway result against a
// failed/timed-out registration means money moved without a seat; flag it.
func (r *Reconciler) terminalStatus(ctx context.Context, reg domain.Registration, reported domain.PaymentStatus) (domain.PaymentStatus, error) {
	current, err := r.store.Get(ctx, reg.ID)
	if err != nil {
		return "", err
	}
	if reported == domain.PaymentStatusCompleted && current.PaymentStatus == domain.PaymentStatusFailed {
		r.logger.Printf("WARN: late completed result for failed registration=%s, needs refund review", reg.ID)
	}
	return current.PaymentStatus, nil
}

// SweepStale fails registrations that outstayed the pending window and
// returns their seats. Each one goes through the same conditional
// transition, so a racing real callback cannot be double-applied.
func (r *Reconciler) SweepStale(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.pendingTTL)
	stale, err := r.store.ListStalePending(ctx, cutoff, r.sweepLimit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, reg := range stale {
		err := r.store.Transition(ctx, reg.ID, domain.PaymentStatusFailed, r.clock.Now())
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			continue
		}
		if err != nil {
			return swept, err
		}
		if err := r.ledger.Release(ctx, reg.ExperienceID, seatsPerRegistration); err != nil {
			r.logger.Printf("WARN: ledger release registration=%s experience=%s: %v", reg.ID, reg.ExperienceID, err)
		}
		swept++
	}
	return swept, nil
}

// Run sweeps on an interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := r.SweepStale(ctx)
			if err != nil {
				r.logger.Printf("WARN: sweep stale registrations: %v", err)
				continue
			}
			if swept > 0 {
				r.logger.Printf("swept stale registrations count=%d", swept)
			}
		}
	}
}
