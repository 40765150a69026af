package events

import (
	"context"
	"errors"

	"github.com/pitabwire/frame"
	"gorm.io/gorm/clause"

	"github.com/antinvestor/monarch-ach/service/models"
)

type TransactionSave struct {
	Service *frame.Service
}

func (event *TransactionSave) Name() string {
	return "transaction.save"
}

func (event *TransactionSave) PayloadType() any {
	return &models.Transaction{}
}

func (event *TransactionSave) Validate(ctx context.Context, payload any) error {
	transaction, ok := payload.(*models.Transaction)
	if !ok {
		return errors.New(" payload is not of type models.Transaction")
	}

	if transaction.GetID() == "" {
		return errors.New(" transaction Id should already have been set ")
	}
	if transaction.TransactionID == "" {
		return errors.New(" transaction reference is required ")
	}

	return nil
}

func (event *TransactionSave) Execute(ctx context.Context, payload any) error {
	transaction := payload.(*models.Transaction)

	logger := event.Service.Log(ctx).WithField("type", event.Name())
	logger.WithField("payload", transaction).Debug("handling event")

	result := event.Service.DB(ctx, false).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(transaction)

	err := result.Error
	if err != nil {
		logger.WithError(err).Warn("could not save to db")
		return err
	}
	logger.WithField("rows affected", result.RowsAffected).Debug("successfully saved record to db")

	return nil
}
