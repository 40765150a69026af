package events

import (
	"context"
	"errors"

	"github.com/pitabwire/frame"

	"github.com/antinvestor/monarch-ach/service/models"
)

// TopicTransactionStatus is where status transitions are published for
// downstream consumers, order systems mostly.
const TopicTransactionStatus = "transaction.status"

// StatusUpdate is the payload for a transaction status transition.
type StatusUpdate struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

type TransactionStatusSave struct {
	Service *frame.Service
}

func (event *TransactionStatusSave) Name() string {
	return "transaction.status.save"
}

func (event *TransactionStatusSave) PayloadType() any {
	return &StatusUpdate{}
}

func (event *TransactionStatusSave) Validate(ctx context.Context, payload any) error {
	update, ok := payload.(*StatusUpdate)
	if !ok {
		return errors.New(" payload is not of type events.StatusUpdate")
	}

	if update.TransactionID == "" {
		return errors.New(" transaction reference is required ")
	}
	if update.Status == "" {
		return errors.New(" status is required ")
	}

	return nil
}

func (event *TransactionStatusSave) Execute(ctx context.Context, payload any) error {
	update := payload.(*StatusUpdate)

	logger := event.Service.Log(ctx).WithField("type", event.Name()).
		WithField("transaction_id", update.TransactionID)
	logger.Debug("handling event")

	result := event.Service.DB(ctx, false).
		Model(&models.Transaction{}).
		Where("transaction_id = ?", update.TransactionID).
		Updates(map[string]any{
			"status":      update.Status,
			"order_state": models.OrderStateFor(update.Status),
		})

	if result.Error != nil {
		logger.WithError(result.Error).Warn("could not update status")
		return result.Error
	}

	err := event.Service.Publish(ctx, TopicTransactionStatus, update)
	if err != nil {
		logger.WithError(err).Warn("could not publish status update")
		return err
	}

	return nil
}
