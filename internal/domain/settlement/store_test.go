package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
)

// memoryStore is an in-memory stand-in for the settlement storage ports.
// RunInTransaction serializes callers and restores a snapshot on error, which
// mirrors row locking plus rollback closely enough for the domain logic.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	payments     map[string]*model.Payment
	transactions []*model.Transaction
	balances     map[int64]int64
	settlements  []*model.SettlementLogEntry

	creditErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		payments: make(map[string]*model.Payment),
		balances: make(map[int64]int64),
	}
}

func key(provider model.Provider, ref string) string {
	return string(provider) + "|" + ref
}

func (s *memoryStore) put(p *model.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[key(p.Provider, p.ExternalReference)] = p
}

func (s *memoryStore) get(provider model.Provider, ref string) *model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.payments[key(provider, ref)]
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (s *memoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshotPayments := make(map[string]model.Payment, len(s.payments))
	for k, p := range s.payments {
		snapshotPayments[k] = *p
	}
	snapshotTx := len(s.transactions)
	snapshotLog := len(s.settlements)
	snapshotBalances := make(map[int64]int64, len(s.balances))
	for k, v := range s.balances {
		snapshotBalances[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		for k, p := range snapshotPayments {
			p := p
			s.payments[k] = &p
		}
		s.transactions = s.transactions[:snapshotTx]
		s.settlements = s.settlements[:snapshotLog]
		s.balances = snapshotBalances
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memoryStore) Create(ctx context.Context, payment *model.Payment) error {
	s.put(payment)
	return nil
}

func (s *memoryStore) CreateIfAbsent(ctx context.Context, payment *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(payment.Provider, payment.ExternalReference)
	if _, ok := s.payments[k]; !ok {
		s.payments[k] = payment
	}
	return nil
}

func (s *memoryStore) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindByReference(ctx context.Context, provider model.Provider, ref string) (*model.Payment, error) {
	return s.get(provider, ref), nil
}

func (s *memoryStore) FindByReferenceForUpdate(ctx context.Context, provider model.Provider, ref string) (*model.Payment, error) {
	return s.get(provider, ref), nil
}

func (s *memoryStore) FindByFilter(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (s *memoryStore) FindStale(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Payment, error) {
	return nil, errors.New("not implemented")
}

func (s *memoryStore) Update(ctx context.Context, payment *model.Payment) error {
	cp := *payment
	s.put(&cp)
	return nil
}

func (s *memoryStore) MarkPaid(ctx context.Context, paymentID, transactionID uuid.UUID, paidAt time.Time, raw string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == paymentID && p.Status != model.PaymentStatusPaid && p.SettledTransactionID == nil {
			txID := transactionID
			p.Status = model.PaymentStatusPaid
			p.SettledTransactionID = &txID
			p.PaidAt = &paidAt
			p.RawCallbackPayload = &raw
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) AttachReceipt(ctx context.Context, paymentID uuid.UUID, receiptID string) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *memoryStore) RecordDeposit(ctx context.Context, userID, amount int64, provider model.Provider, ref string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &model.Transaction{
		ID:                uuid.New(),
		UserID:            userID,
		Type:              model.TransactionTypeDeposit,
		AmountMinorUnits:  amount,
		Provider:          provider,
		ExternalReference: ref,
	}
	s.transactions = append(s.transactions, tx)
	return tx.ID, nil
}

func (s *memoryStore) CountByReference(ctx context.Context, provider model.Provider, ref string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tx := range s.transactions {
		if tx.Provider == provider && tx.ExternalReference == ref {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Credit(ctx context.Context, userID, amount int64) error {
	if s.creditErr != nil {
		return s.creditErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return nil
}

func (s *memoryStore) Append(ctx context.Context, entry *model.SettlementLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, entry)
	return nil
}

func (s *memoryStore) FindInWindow(ctx context.Context, window model.TimeWindow) ([]*model.SettlementLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.SettlementLogEntry(nil), s.settlements...), nil
}

func (s *memoryStore) balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

var (
	_ outbound.PaymentDatabasePort  = (*memoryStore)(nil)
	_ outbound.TransactionStorePort = (*memoryStore)(nil)
	_ outbound.BalanceLedgerPort    = (*memoryStore)(nil)
	_ outbound.SettlementLogPort    = (*memoryStore)(nil)
	_ outbound.TransactionPort      = (*memoryStore)(nil)
)
