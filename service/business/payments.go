package business

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/events"
	"github.com/antinvestor/monarch-ach/service/linking"
	"github.com/antinvestor/monarch-ach/service/models"
	"github.com/antinvestor/monarch-ach/service/repository"
)

type PaymentBusiness interface {
	Pay(ctx context.Context, store linking.CredentialStore, userID string, order Order) (*models.Transaction, error)
	OrderTransactions(ctx context.Context, orderID string) ([]*models.Transaction, error)
	FindTransaction(ctx context.Context, reference string) (*models.Transaction, error)
	SearchTransactions(ctx context.Context, query string) ([]*models.Transaction, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

type paymentBusiness struct {
	service *frame.Service
	client  *coreapi.Client
	flow    *linking.Flow
	repo    repository.TransactionRepository

	emitter eventEmitter
}

func NewPaymentBusiness(_ context.Context, service *frame.Service, client *coreapi.Client, flow *linking.Flow, repo repository.TransactionRepository) PaymentBusiness {
	return &paymentBusiness{
		service: service,
		client:  client,
		flow:    flow,
		repo:    repo,
		emitter: service,
	}
}

// Pay originates an ACH sale for the order against the shopper's linked
// bank account. The stored token is single use: it must be present before
// the sale and is cleared only once the sale goes through, so a rejected
// sale leaves the linkage exactly as it was.
func (pb *paymentBusiness) Pay(ctx context.Context, store linking.CredentialStore, userID string, order Order) (*models.Transaction, error) {
	logger := pb.service.Log(ctx).WithField("order_id", order.ID())

	if order.Total().LessThanOrEqual(decimal.Zero) {
		return nil, ErrorInvalidAmount
	}

	if err := pb.rejectDuplicate(ctx, order.ID()); err != nil {
		return nil, err
	}

	record, err := store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.OrgID == "" {
		return nil, ErrorBankNotConnected
	}

	// a linkage stamped under different merchant credentials or the other
	// environment must not be charged against; wipe it and make the
	// shopper relink
	if record.MerchantOrgID != "" &&
		(record.MerchantOrgID != pb.client.MerchantOrgID || record.Sandbox != pb.client.Sandbox) {
		logger.WithField("org_id", record.OrgID).
			Warn("credential context changed since linking, clearing linkage")
		if clearErr := store.Clear(ctx, userID); clearErr != nil {
			return nil, clearErr
		}
		return nil, ErrorReconnectRequired
	}

	if record.PayTokenID == "" {
		return nil, ErrorBankNotConnected
	}

	client := pb.client
	scope := models.ScopeMerchant
	if record.HasPurchaserCredentials() {
		client = pb.client.WithCredentials(record.PurchaserAPIKey, record.PurchaserAppID)
		scope = models.ScopePurchaser
	}

	amount, _ := order.Total().Float64()
	saleDoc, err := client.Sale(ctx, coreapi.SaleData{
		Amount:     amount,
		OrgID:      record.OrgID,
		PayTokenID: record.PayTokenID,
		Comment:    order.Description(),
	})
	if err != nil {
		logger.WithError(err).Error("sale was rejected")
		return nil, err
	}

	transaction := pb.buildTransaction(ctx, order, record, scope, saleDoc)

	if err = pb.emitTransactionEvents(ctx, transaction); err != nil {
		return nil, err
	}

	if err = pb.flow.MarkTokenSpent(ctx, store, userID); err != nil {
		logger.WithError(err).Warn("could not clear spent token")
	}

	logger.WithField("transaction_id", transaction.TransactionID).
		WithField("status", transaction.Status).
		Info("sale originated")
	return transaction, nil
}

func (pb *paymentBusiness) OrderTransactions(ctx context.Context, orderID string) ([]*models.Transaction, error) {
	return pb.repo.GetByOrderID(ctx, orderID)
}

// FindTransaction looks a sale up by its provider reference, falling back
// to our own row id so placeholder-stamped sales stay findable.
func (pb *paymentBusiness) FindTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	transaction, err := pb.repo.GetByTransactionID(ctx, reference)
	if err == nil {
		return transaction, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return pb.repo.GetByID(ctx, reference)
}

func (pb *paymentBusiness) SearchTransactions(ctx context.Context, query string) ([]*models.Transaction, error) {
	return pb.repo.Search(ctx, query)
}

// rejectDuplicate refuses to originate a second sale while any earlier
// one for the order is still live.
func (pb *paymentBusiness) rejectDuplicate(ctx context.Context, orderID string) error {
	existing, err := pb.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	for _, txn := range existing {
		if txn.Status != models.TxnStatusFailed && txn.Status != models.TxnStatusCancelled {
			return ErrorOrderAlreadyPaid
		}
	}
	return nil
}

func (pb *paymentBusiness) buildTransaction(ctx context.Context, order Order, record *linking.Record, scope string, saleDoc coreapi.Document) *models.Transaction {
	transaction := &models.Transaction{
		OrderID:         order.ID(),
		TransactionID:   saleDoc.TransactionID(),
		OrgID:           record.OrgID,
		PayTokenID:      record.PayTokenID,
		Currency:        order.Currency(),
		CredentialScope: scope,
		// the provider response is kept whole, nested objects included,
		// so disputes can be worked from what the bank actually said
		Response: datatypes.JSONMap(saleDoc),
	}
	transaction.Amount = decimal.NullDecimal{Valid: true, Decimal: order.Total()}
	transaction.GenID(ctx)

	if transaction.TransactionID == "" {
		// provider sometimes omits the reference on accepted sales; stamp
		// a placeholder so reconciliation can flag it for review
		transaction.TransactionID = "txn_" + uuid.New().String()
		transaction.NeedsReview = true
	}

	if mapped, ok := models.MapProviderStatus(saleDoc.Status()); ok {
		transaction.Status = mapped
	} else {
		transaction.Status = models.TxnStatusPending
	}
	transaction.OrderState = models.OrderStateFor(transaction.Status)
	return transaction
}

func (pb *paymentBusiness) emitTransactionEvents(ctx context.Context, transaction *models.Transaction) error {
	event := events.TransactionSave{}
	if err := pb.emitter.Emit(ctx, event.Name(), transaction); err != nil {
		pb.service.Log(ctx).WithError(err).Warn("could not emit transaction event")
		return err
	}

	statusEvent := events.TransactionStatusSave{}
	statusUpdate := events.StatusUpdate{
		TransactionID: transaction.TransactionID,
		Status:        transaction.Status,
	}
	if err := pb.emitter.Emit(ctx, statusEvent.Name(), statusUpdate); err != nil {
		pb.service.Log(ctx).WithError(err).Warn("could not emit transaction status event")
		return err
	}
	return nil
}
