package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
)

// PaymentDatabasePort defines payment persistence operations.
type PaymentDatabasePort interface {
	// Create creates a new payment record.
	Create(ctx context.Context, payment *model.Payment) error

	// CreateIfAbsent inserts the payment unless (provider, external reference) already exists.
	CreateIfAbsent(ctx context.Context, payment *model.Payment) error

	// FindByID finds a payment by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// FindByReference finds a payment by provider and external reference.
	FindByReference(ctx context.Context, provider model.Provider, externalRef string) (*model.Payment, error)

	// FindByReferenceForUpdate finds a payment and holds a row lock until the
	// surrounding transaction ends.
	FindByReferenceForUpdate(ctx context.Context, provider model.Provider, externalRef string) (*model.Payment, error)

	// FindByFilter finds payments by filter.
	FindByFilter(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error)

	// FindStale finds unsettled payments created before the cutoff.
	// Payments held for review are never returned.
	FindStale(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Payment, error)

	// Update updates a payment record.
	Update(ctx context.Context, payment *model.Payment) error

	// MarkPaid moves an unsettled payment to paid and writes its settled
	// transaction id. It reports false when no unsettled row matched.
	MarkPaid(ctx context.Context, paymentID, transactionID uuid.UUID, paidAt time.Time, rawPayload string) (bool, error)

	// AttachReceipt sets the receipt id on a paid payment that has none.
	AttachReceipt(ctx context.Context, paymentID uuid.UUID, receiptID string) (bool, error)
}

// TransactionPort runs work inside a single database transaction.
type TransactionPort interface {
	// RunInTransaction executes fn with a context bound to one transaction.
	// Any error returned by fn rolls the transaction back.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CallbackLogPort appends inbound callback audit records.
type CallbackLogPort interface {
	Append(ctx context.Context, entry *model.CallbackLog) error
}

// CallbackArchivePort stores raw callback bodies out of band.
type CallbackArchivePort interface {
	// Archive stores body and returns the object key.
	Archive(ctx context.Context, provider model.Provider, receivedAt time.Time, body []byte) (string, error)
}
