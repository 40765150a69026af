package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/antinvestor/monarch-ach/service/models"
	"github.com/pitabwire/frame"
)

type TransactionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*models.Transaction, error)
	GetByStatuses(ctx context.Context, statuses ...string) ([]*models.Transaction, error)
	Search(ctx context.Context, query string) ([]*models.Transaction, error)
	Save(ctx context.Context, transaction *models.Transaction) error
}

type transactionRepository struct {
	abstractRepository
}

func NewTransactionRepository(ctx context.Context, service *frame.Service) TransactionRepository {
	return &transactionRepository{abstractRepository{service: service}}
}

func (repo *transactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	transaction := models.Transaction{}
	err := repo.readDb(ctx).First(&transaction, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (repo *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	transaction := models.Transaction{}
	err := repo.readDb(ctx).First(&transaction, "transaction_id = ?", transactionID).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (repo *transactionRepository) GetByOrderID(ctx context.Context, orderID string) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	err := repo.readDb(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (repo *transactionRepository) GetByStatuses(ctx context.Context, statuses ...string) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	err := repo.readDb(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (repo *transactionRepository) Search(ctx context.Context, query string) ([]*models.Transaction, error) {
	query = strings.TrimSpace(query)
	var transactions []*models.Transaction
	transactionQuery := repo.readDb(ctx)
	if query != "" {
		searchQ := fmt.Sprintf("%%%s%%", query)

		transactionQuery = transactionQuery.
			Where(" id ILIKE ? OR transaction_id ILIKE ? OR order_id ILIKE ?", searchQ, searchQ, searchQ)
	}

	err := transactionQuery.Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (repo *transactionRepository) Save(ctx context.Context, transaction *models.Transaction) error {
	return repo.writeDb(ctx).Save(transaction).Error
}
