package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes ---

type settlementLogStub []*model.SettlementLogEntry

func (s settlementLogStub) Append(context.Context, *model.SettlementLogEntry) error { return nil }

func (s settlementLogStub) FindInWindow(_ context.Context, w model.TimeWindow) ([]*model.SettlementLogEntry, error) {
	var out []*model.SettlementLogEntry
	for _, e := range s {
		if w.Contains(e.SettledAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

type receiptLogStub struct {
	entries []*model.ReceiptLogEntry
}

func (s *receiptLogStub) Append(_ context.Context, e *model.ReceiptLogEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *receiptLogStub) FindInWindow(_ context.Context, w model.TimeWindow) ([]*model.ReceiptLogEntry, error) {
	var out []*model.ReceiptLogEntry
	for _, e := range s.entries {
		if w.Contains(e.IssuedAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

// paymentStore records every write so tests can assert nothing but receipt ids changed.
type paymentStore struct {
	byRef    map[string]*model.Payment
	attached map[uuid.UUID]string
	stale    []*model.Payment
}

func newPaymentStore(payments ...*model.Payment) *paymentStore {
	s := &paymentStore{byRef: map[string]*model.Payment{}, attached: map[uuid.UUID]string{}}
	for _, p := range payments {
		s.byRef[p.ExternalReference] = p
	}
	return s
}

func (s *paymentStore) Create(context.Context, *model.Payment) error         { panic("unexpected write") }
func (s *paymentStore) CreateIfAbsent(context.Context, *model.Payment) error { panic("unexpected write") }
func (s *paymentStore) Update(context.Context, *model.Payment) error         { panic("unexpected write") }

func (s *paymentStore) MarkPaid(context.Context, uuid.UUID, uuid.UUID, time.Time, string) (bool, error) {
	panic("unexpected settlement")
}

func (s *paymentStore) FindByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	for _, p := range s.byRef {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (s *paymentStore) FindByReference(_ context.Context, _ model.Provider, ref string) (*model.Payment, error) {
	return s.byRef[ref], nil
}

func (s *paymentStore) FindByReferenceForUpdate(ctx context.Context, p model.Provider, ref string) (*model.Payment, error) {
	return s.FindByReference(ctx, p, ref)
}

func (s *paymentStore) FindByFilter(context.Context, model.PaymentFilter) ([]*model.Payment, int64, error) {
	return nil, 0, nil
}

func (s *paymentStore) FindStale(_ context.Context, _ time.Time, limit int) ([]*model.Payment, error) {
	if len(s.stale) > limit {
		return s.stale[:limit], nil
	}
	return s.stale, nil
}

func (s *paymentStore) AttachReceipt(_ context.Context, id uuid.UUID, receiptID string) (bool, error) {
	for _, p := range s.byRef {
		if p.ID == id && p.ReceiptID == nil {
			p.ReceiptID = &receiptID
			s.attached[id] = receiptID
			return true, nil
		}
	}
	return false, nil
}

type gatewayStub struct {
	ops []*model.UpstreamOperation
}

func (g *gatewayStub) Provider() model.Provider { return model.ProviderMulenPay }

func (g *gatewayStub) CreateOrder(context.Context, *model.GatewayOrderRequest) (*model.GatewayOrder, error) {
	return nil, errors.New("not used")
}

func (g *gatewayStub) GetOrder(context.Context, string) (*model.GatewayOrder, error) {
	return nil, errors.New("not used")
}

func (g *gatewayStub) ListOperations(context.Context, model.TimeWindow) ([]*model.UpstreamOperation, error) {
	return g.ops, nil
}

type registryStub struct {
	gw outbound.PaymentGatewayPort
}

func (r registryStub) Get(p model.Provider) (outbound.PaymentGatewayPort, error) {
	if p != r.gw.Provider() {
		return nil, errors.New("not configured")
	}
	return r.gw, nil
}

func (r registryStub) Providers() []model.Provider { return []model.Provider{r.gw.Provider()} }

type MockSettlement struct {
	mock.Mock
}

func (m *MockSettlement) Settle(ctx context.Context, e *model.WebhookEvent) (*model.SettlementResult, error) {
	panic("reconciliation must never settle")
}

func (m *MockSettlement) Fail(ctx context.Context, e *model.WebhookEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockSettlement) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func window() model.TimeWindow {
	return model.TimeWindow{From: base.Add(-time.Hour), To: base.Add(time.Hour)}
}

// --- Tests ---

func TestReconcile_SetDifference(t *testing.T) {
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	settled := settlementLogStub{
		{PaymentID: p1, SettledAt: base},
		{PaymentID: p2, SettledAt: base.Add(time.Minute)},
	}
	receipts := &receiptLogStub{entries: []*model.ReceiptLogEntry{
		{ReceiptID: "r1", PaymentID: &p1, IssuedAt: base.Add(time.Minute)},
		{ReceiptID: "r3", PaymentID: &p3, IssuedAt: base},
		{ReceiptID: "r4", IssuedAt: base},
	}}

	d := NewReconciliationDomain(settled, receipts, newPaymentStore(), nil, new(MockSettlement), Config{}, zap.NewNop())
	report, err := d.Reconcile(context.Background(), window())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched)
	require.Len(t, report.SettledWithoutReceipt, 1)
	assert.Equal(t, p2, report.SettledWithoutReceipt[0].PaymentID)
	require.Len(t, report.ReceiptsWithoutSettlement, 2)
}

func TestReconcile_InvalidWindow(t *testing.T) {
	d := NewReconciliationDomain(settlementLogStub{}, &receiptLogStub{}, newPaymentStore(), nil, new(MockSettlement), Config{}, zap.NewNop())
	_, err := d.Reconcile(context.Background(), model.TimeWindow{From: base, To: base})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestBackfill_AttachesOnlyToPaidPayments(t *testing.T) {
	paid := &model.Payment{ID: uuid.New(), ExternalReference: "mp-1", AmountMinorUnits: 150000, Status: model.PaymentStatusPaid}
	pending := &model.Payment{ID: uuid.New(), ExternalReference: "mp-2", AmountMinorUnits: 90000, Status: model.PaymentStatusPending}
	existing := "already"
	withReceipt := &model.Payment{ID: uuid.New(), ExternalReference: "mp-3", AmountMinorUnits: 5000, Status: model.PaymentStatusPaid, ReceiptID: &existing}
	store := newPaymentStore(paid, pending, withReceipt)

	receipts := &receiptLogStub{entries: []*model.ReceiptLogEntry{
		{ReceiptID: "r-paid", AmountMinorUnits: 150000, IssuedAt: base.Add(2 * time.Minute)},
		{ReceiptID: "r-pending", AmountMinorUnits: 90000, IssuedAt: base},
		{ReceiptID: "r-has", AmountMinorUnits: 5000, IssuedAt: base},
		{ReceiptID: "r-none", AmountMinorUnits: 777, IssuedAt: base},
	}}
	gw := &gatewayStub{ops: []*model.UpstreamOperation{
		{ExternalReference: "mp-far", AmountMinorUnits: 150000, OccurredAt: base.Add(-30 * time.Minute)},
		{ExternalReference: "mp-1", AmountMinorUnits: 150000, OccurredAt: base},
		{ExternalReference: "mp-2", AmountMinorUnits: 90000, OccurredAt: base},
		{ExternalReference: "mp-3", AmountMinorUnits: 5000, OccurredAt: base},
	}}

	d := NewReconciliationDomain(settlementLogStub{}, receipts, store, registryStub{gw: gw}, new(MockSettlement),
		Config{MatchTolerance: 5 * time.Minute}, zap.NewNop())
	result, err := d.Backfill(context.Background(), model.ProviderMulenPay, window())

	require.NoError(t, err)
	assert.Equal(t, 4, result.Examined)
	assert.Equal(t, 1, result.Attached)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, map[uuid.UUID]string{paid.ID: "r-paid"}, store.attached)
	assert.Equal(t, model.PaymentStatusPending, pending.Status)
	assert.Equal(t, "already", *withReceipt.ReceiptID)
}

func TestBackfill_UnknownProvider(t *testing.T) {
	d := NewReconciliationDomain(settlementLogStub{}, &receiptLogStub{}, newPaymentStore(),
		registryStub{gw: &gatewayStub{}}, new(MockSettlement), Config{}, zap.NewNop())
	_, err := d.Backfill(context.Background(), model.ProviderCryptoBot, window())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestRecordReceipt(t *testing.T) {
	paid := &model.Payment{ID: uuid.New(), ExternalReference: "mp-1", Status: model.PaymentStatusPaid}
	store := newPaymentStore(paid)
	receipts := &receiptLogStub{}
	d := NewReconciliationDomain(settlementLogStub{}, receipts, store, nil, new(MockSettlement), Config{}, zap.NewNop())

	entry, err := d.RecordReceipt(context.Background(), &model.RecordReceiptRequest{
		ReceiptID: "r-1", PaymentID: &paid.ID, AmountMinorUnits: 1000, IssuedAt: base,
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", entry.ReceiptID)
	assert.Len(t, receipts.entries, 1)
	assert.Equal(t, "r-1", *paid.ReceiptID)

	_, err = d.RecordReceipt(context.Background(), &model.RecordReceiptRequest{ReceiptID: "r-2"})
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestExpireStale(t *testing.T) {
	a := &model.Payment{ID: uuid.New(), ExternalReference: "a"}
	b := &model.Payment{ID: uuid.New(), ExternalReference: "b"}
	c := &model.Payment{ID: uuid.New(), ExternalReference: "c"}
	store := newPaymentStore()
	store.stale = []*model.Payment{a, b, c}

	st := new(MockSettlement)
	st.On("Expire", mock.Anything, a.ID).Return(true, nil)
	st.On("Expire", mock.Anything, b.ID).Return(false, nil)
	st.On("Expire", mock.Anything, c.ID).Return(false, errors.New("db down"))

	d := NewReconciliationDomain(settlementLogStub{}, &receiptLogStub{}, store, nil, st, Config{}, zap.NewNop())
	n, err := d.ExpireStale(context.Background(), base)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	st.AssertExpectations(t)
}
