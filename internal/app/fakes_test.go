package app

import (
	"context"
	"sync"
	"time"

	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/atlastrails/booking-api/internal/gateway"
)

// fakeLedger mirrors the conditional-update contract of the Postgres
// ledger: reserve succeeds only while seats fit within capacity.
type fakeLedger struct {
	mu       sync.Mutex
	total    map[string]int
	current  map[string]int
	commits  int
	releases int

	reserveErr error
	releaseErr error
}

func newFakeLedger(experiences map[string]int) *fakeLedger {
	total := make(map[string]int, len(experiences))
	current := make(map[string]int, len(experiences))
	for id, capacity := range experiences {
		total[id] = capacity
		current[id] = 0
	}
	return &fakeLedger{total: total, current: current}
}

func (f *fakeLedger) Reserve(ctx context.Context, experienceID string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	total, ok := f.total[experienceID]
	if !ok {
		return domain.ErrExperienceNotFound
	}
	if f.current[experienceID]+amount > total {
		return domain.ErrCapacityExhausted
	}
	f.current[experienceID] += amount
	return nil
}

func (f *fakeLedger) Release(ctx context.Context, experienceID string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if _, ok := f.total[experienceID]; !ok {
		return domain.ErrExperienceNotFound
	}
	if f.current[experienceID] < amount {
		return domain.ErrLedgerDrift
	}
	f.current[experienceID] -= amount
	f.releases++
	return nil
}

func (f *fakeLedger) Commit(ctx context.Context, experienceID string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.total[experienceID]; !ok {
		return domain.ErrExperienceNotFound
	}
	if f.current[experienceID] < amount {
		return domain.ErrLedgerDrift
	}
	f.commits++
	return nil
}

func (f *fakeLedger) Availability(ctx context.Context, experienceID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total, ok := f.total[experienceID]
	if !ok {
		return 0, 0, domain.ErrExperienceNotFound
	}
	return total - f.current[experienceID], total, nil
}

func (f *fakeLedger) consumed(experienceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[experienceID]
}

// fakeStore keeps registrations in memory with the same conditional
// transition semantics as the Postgres repository.
type fakeStore struct {
	mu           sync.Mutex
	regs         map[string]*domain.Registration
	byKey        map[string]string
	sessions     map[string]domain.PaymentSession
	sessionByReg map[string]string
	transitions  int

	createErr  error
	sessionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:         make(map[string]*domain.Registration),
		byKey:        make(map[string]string),
		sessions:     make(map[string]domain.PaymentSession),
		sessionByReg: make(map[string]string),
	}
}

func (f *fakeStore) CreatePending(ctx context.Context, reg domain.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byKey[reg.IdempotencyKey]; exists {
		return domain.ErrIdempotencyConflict
	}
	copied := reg
	f.regs[reg.ID] = &copied
	f.byKey[reg.IdempotencyKey] = reg.ID
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (domain.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return domain.Registration{}, domain.ErrRegistrationNotFound
	}
	return *reg, nil
}

func (f *fakeStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[key]
	if !ok {
		return nil, nil
	}
	reg := *f.regs[id]
	return &reg, nil
}

func (f *fakeStore) Transition(ctx context.Context, id string, to domain.PaymentStatus, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return domain.ErrRegistrationNotFound
	}
	if reg.PaymentStatus != domain.PaymentStatusPending {
		return domain.ErrAlreadyTerminal
	}
	reg.PaymentStatus = to
	reg.UpdatedAt = now
	f.transitions++
	return nil
}

func (f *fakeStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Registration
	for _, reg := range f.regs {
		if reg.PaymentStatus == domain.PaymentStatusPending && reg.CreatedAt.Before(cutoff) {
			out = append(out, *reg)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) SaveSession(ctx context.Context, session domain.PaymentSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return f.sessionErr
	}
	f.sessions[session.TransactionID] = session
	f.sessionByReg[session.RegistrationID] = session.TransactionID
	return nil
}

func (f *fakeStore) GetByTransactionID(ctx context.Context, transactionID string) (domain.Registration, domain.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[transactionID]
	if !ok {
		return domain.Registration{}, domain.PaymentSession{}, domain.ErrSessionNotFound
	}
	reg := *f.regs[session.RegistrationID]
	return reg, session, nil
}

func (f *fakeStore) GetSession(ctx context.Context, registrationID string) (domain.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txID, ok := f.sessionByReg[registrationID]
	if !ok {
		return domain.PaymentSession{}, domain.ErrSessionNotFound
	}
	return f.sessions[txID], nil
}

// fakeGateway returns canned results; it never signs or verifies.
type fakeGateway struct {
	mu        sync.Mutex
	initiated []gateway.InitiateRequest

	initiateErr error
	redirectURL string

	statusResult gateway.StatusResult
	statusErr    error
	statusCalls  int

	callbackNote gateway.CallbackNotification
	callbackErr  error
}

func (f *fakeGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initiateErr != nil {
		return gateway.Session{}, f.initiateErr
	}
	f.initiated = append(f.initiated, req)
	return gateway.Session{TransactionID: req.TransactionID, RedirectURL: f.redirectURL}, nil
}

func (f *fakeGateway) CheckStatus(ctx context.Context, transactionID string) (gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return gateway.StatusResult{}, f.statusErr
	}
	return f.statusResult, nil
}

func (f *fakeGateway) DecodeCallback(body []byte, verify string) (gateway.CallbackNotification, error) {
	if f.callbackErr != nil {
		return gateway.CallbackNotification{}, f.callbackErr
	}
	return f.callbackNote, nil
}

func (f *fakeGateway) Merchant() gateway.MerchantContext {
	return gateway.MerchantContext{ID: "M-TEST", KeyIndex: 1, Sandbox: true}
}
