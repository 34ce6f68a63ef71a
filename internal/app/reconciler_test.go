package app

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/atlastrails/booking-api/internal/clock"
	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/atlastrails/booking-api/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedAwaitingPayment creates a pending registration with a payment session
// and one consumed seat, i.e. the AwaitingPayment state.
func seedAwaitingPayment(t *testing.T, ledger *fakeLedger, store *fakeStore, txID string) domain.Registration {
	t.Helper()
	require.NoError(t, ledger.Reserve(context.Background(), "exp-1", 1))

	reg := domain.Registration{
		ID:             "reg-" + txID,
		UserID:         "user-1",
		ExperienceID:   "exp-1",
		PricingLines:   []domain.LineItem{{Amount: 100, Quantity: 2}},
		TotalAmount:    200,
		PaymentStatus:  domain.PaymentStatusPending,
		IdempotencyKey: "key-" + txID,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
	require.NoError(t, store.CreatePending(context.Background(), reg))
	require.NoError(t, store.SaveSession(context.Background(), domain.PaymentSession{
		TransactionID:  txID,
		RegistrationID: reg.ID,
		MerchantID:     "M-TEST",
		KeyIndex:       1,
		Sandbox:        true,
		CreatedAt:      testNow,
	}))
	return reg
}

func newTestReconciler(ledger *fakeLedger, store *fakeStore, gw *fakeGateway, opts ...ReconcilerOption) *Reconciler {
	return NewReconciler(store, ledger, gw, clock.NewFixed(testNow), log.Default(), opts...)
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	t.Run("completed result completes the registration", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		reg := seedAwaitingPayment(t, ledger, store, "tx-1")
		gw := &fakeGateway{statusResult: gateway.StatusResult{Status: gateway.StatusCompleted}}
		rec := newTestReconciler(ledger, store, gw)

		status, err := rec.Finalize(context.Background(), "tx-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, status)

		got, err := store.Get(context.Background(), reg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, got.PaymentStatus)
		assert.Equal(t, 1, ledger.consumed("exp-1"), "completed keeps the seat")
		assert.Equal(t, 1, ledger.commits)
		assert.Equal(t, 0, ledger.releases)
	})

	t.Run("failed result releases the seat", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		reg := seedAwaitingPayment(t, ledger, store, "tx-2")
		gw := &fakeGateway{statusResult: gateway.StatusResult{Status: gateway.StatusFailed}}
		rec := newTestReconciler(ledger, store, gw)

		status, err := rec.Finalize(context.Background(), "tx-2")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, status)

		got, err := store.Get(context.Background(), reg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)
		assert.Equal(t, 0, ledger.consumed("exp-1"), "failed returns the seat")
		assert.Equal(t, 1, ledger.releases)
	})

	t.Run("pending result changes nothing", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		reg := seedAwaitingPayment(t, ledger, store, "tx-3")
		gw := &fakeGateway{statusResult: gateway.StatusResult{Status: gateway.StatusPending}}
		rec := newTestReconciler(ledger, store, gw)

		status, err := rec.Finalize(context.Background(), "tx-3")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, status)

		got, err := store.Get(context.Background(), reg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
		assert.Equal(t, 1, ledger.consumed("exp-1"))
	})

	t.Run("terminal registration answered without a remote call", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		reg := seedAwaitingPayment(t, ledger, store, "tx-4")
		require.NoError(t, store.Transition(context.Background(), reg.ID, domain.PaymentStatusCompleted, testNow))
		gw := &fakeGateway{statusResult: gateway.StatusResult{Status: gateway.StatusFailed}}
		rec := newTestReconciler(ledger, store, gw)

		status, err := rec.Finalize(context.Background(), "tx-4")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, status)
		assert.Equal(t, 0, gw.statusCalls)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		rec := newTestReconciler(newFakeLedger(nil), newFakeStore(), &fakeGateway{})
		_, err := rec.Finalize(context.Background(), "tx-missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("gateway unavailable leaves registration pending", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		reg := seedAwaitingPayment(t, ledger, store, "tx-5")
		gw := &fakeGateway{statusErr: domain.ErrGatewayUnavailable}
		rec := newTestReconciler(ledger, store, gw)

		_, err := rec.Finalize(context.Background(), "tx-5")
		assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

		got, err := store.Get(context.Background(), reg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	})
}

func TestHandleCallback(t *testing.T) {
	t.Parallel()

	t.Run("completed callback completes once", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		seedAwaitingPayment(t, ledger, store, "tx-cb")
		gw := &fakeGateway{callbackNote: gateway.CallbackNotification{TransactionID: "tx-cb", Status: gateway.StatusCompleted}}
		rec := newTestReconciler(ledger, store, gw)

		status, err := rec.HandleCallback(context.Background(), []byte(`{}`), "sig")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, status)
		assert.Equal(t, 1, store.transitions)
	})

	t.Run("duplicate deliveries are no-ops", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		seedAwaitingPayment(t, ledger, store, "tx-dup")
		gw := &fakeGateway{callbackNote: gateway.CallbackNotification{TransactionID: "tx-dup", Status: gateway.StatusCompleted}}
		rec := newTestReconciler(ledger, store, gw)

		for i := 0; i < 3; i++ {
			status, err := rec.HandleCallback(context.Background(), []byte(`{}`), "sig")
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentStatusCompleted, status)
		}
		assert.Equal(t, 1, store.transitions, "only the first delivery may transition")
		assert.Equal(t, 1, ledger.commits)
	})

	t.Run("poll and callback race resolves exactly once", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		seedAwaitingPayment(t, ledger, store, "tx-race")
		gw := &fakeGateway{
			statusResult: gateway.StatusResult{Status: gateway.StatusCompleted},
			callbackNote: gateway.CallbackNotification{TransactionID: "tx-race", Status: gateway.StatusCompleted},
		}
		rec := newTestReconciler(ledger, store, gw)

		pollStatus, err := rec.Finalize(context.Background(), "tx-race")
		require.NoError(t, err)
		cbStatus, err := rec.HandleCallback(context.Background(), []byte(`{}`), "sig")
		require.NoError(t, err)

		assert.Equal(t, domain.PaymentStatusCompleted, pollStatus)
		assert.Equal(t, domain.PaymentStatusCompleted, cbStatus)
		assert.Equal(t, 1, store.transitions)
		assert.Equal(t, 1, ledger.consumed("exp-1"), "capacity must not be double-committed")
	})

	t.Run("racing failed finalizers release exactly once", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		seedAwaitingPayment(t, ledger, store, "tx-ff")
		gw := &fakeGateway{
			statusResult: gateway.StatusResult{Status: gateway.StatusFailed},
			callbackNote: gateway.CallbackNotification{TransactionID: "tx-ff", Status: gateway.StatusFailed},
		}
		rec := newTestReconciler(ledger, store, gw)

		_, err := rec.Finalize(context.Background(), "tx-ff")
		require.NoError(t, err)
		_, err = rec.HandleCallback(context.Background(), []byte(`{}`), "sig")
		require.NoError(t, err)

		assert.Equal(t, 1, ledger.releases)
		assert.Equal(t, 0, ledger.consumed("exp-1"))
	})

	t.Run("unverifiable callback is rejected without local effect", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 2})
		store := newFakeStore()
		reg := seedAwaitingPayment(t, ledger, store, "tx-bad")
		gw := &fakeGateway{callbackErr: domain.ErrGatewayUnavailable}
		rec := newTestReconciler(ledger, store, gw)

		_, err := rec.HandleCallback(context.Background(), []byte(`{}`), "bad-sig")
		assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

		got, err := store.Get(context.Background(), reg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	})
}

func TestSweepStale(t *testing.T) {
	t.Parallel()

	t.Run("times out stale pending registrations", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 5})
		store := newFakeStore()
		stale := seedAwaitingPayment(t, ledger, store, "tx-old")

		// Backdate past the pending window.
		store.mu.Lock()
		store.regs[stale.ID].CreatedAt = testNow.Add(-time.Hour)
		store.mu.Unlock()

		fresh := seedAwaitingPayment(t, ledger, store, "tx-new")

		rec := newTestReconciler(ledger, store, &fakeGateway{}, WithPendingTTL(30*time.Minute))
		swept, err := rec.SweepStale(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		gotStale, err := store.Get(context.Background(), stale.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, gotStale.PaymentStatus)

		gotFresh, err := store.Get(context.Background(), fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, gotFresh.PaymentStatus)

		assert.Equal(t, 1, ledger.consumed("exp-1"), "stale seat returned, fresh seat kept")
	})

	t.Run("late callback cannot reopen a timed-out registration", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 5})
		store := newFakeStore()
		stale := seedAwaitingPayment(t, ledger, store, "tx-late")
		store.mu.Lock()
		store.regs[stale.ID].CreatedAt = testNow.Add(-time.Hour)
		store.mu.Unlock()

		gw := &fakeGateway{callbackNote: gateway.CallbackNotification{TransactionID: "tx-late", Status: gateway.StatusCompleted}}
		rec := newTestReconciler(ledger, store, gw, WithPendingTTL(30*time.Minute))

		swept, err := rec.SweepStale(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, swept)

		status, err := rec.HandleCallback(context.Background(), []byte(`{}`), "sig")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, status, "stored terminal state wins")

		got, err := store.Get(context.Background(), stale.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)
		assert.Equal(t, 0, ledger.consumed("exp-1"))
		assert.Equal(t, 0, ledger.commits)
	})

	t.Run("nothing stale sweeps nothing", func(t *testing.T) {
		ledger := newFakeLedger(map[string]int{"exp-1": 5})
		store := newFakeStore()
		seedAwaitingPayment(t, ledger, store, "tx-fresh")

		rec := newTestReconciler(ledger, store, &fakeGateway{}, WithPendingTTL(30*time.Minute))
		swept, err := rec.SweepStale(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, swept)
	})
}
