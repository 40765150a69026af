package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pitabwire/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/events"
	"github.com/antinvestor/monarch-ach/service/models"
)

type fakeStatusAPI struct {
	byID  map[string]coreapi.Document
	errBy map[string]error
	calls []string
}

func (f *fakeStatusAPI) TransactionStatus(ctx context.Context, transactionID string) (coreapi.Document, error) {
	f.calls = append(f.calls, transactionID)
	if err, ok := f.errBy[transactionID]; ok {
		return nil, err
	}
	return f.byID[transactionID], nil
}

type fakeTxnRepo struct {
	pending []*models.Transaction
	loadErr error
}

func (r *fakeTxnRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnRepo) GetByOrderID(ctx context.Context, orderID string) ([]*models.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnRepo) GetByStatuses(ctx context.Context, statuses ...string) ([]*models.Transaction, error) {
	return r.pending, r.loadErr
}

func (r *fakeTxnRepo) Search(ctx context.Context, query string) ([]*models.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnRepo) Save(ctx context.Context, transaction *models.Transaction) error {
	return nil
}

type fakeEmitter struct {
	updates []events.StatusUpdate
}

func (e *fakeEmitter) Emit(ctx context.Context, name string, payload any) error {
	update, ok := payload.(events.StatusUpdate)
	if ok {
		e.updates = append(e.updates, update)
	}
	return nil
}

func testReconciler(t *testing.T, api *fakeStatusAPI, repo *fakeTxnRepo) (*StatusReconciler, *fakeEmitter) {
	t.Helper()
	_, service := frame.NewServiceWithContext(context.Background(), "worker_tests")
	emitter := &fakeEmitter{}
	return &StatusReconciler{
		Service:  service,
		Client:   api,
		Repo:     repo,
		Interval: time.Hour,
		Emitter:  emitter,
	}, emitter
}

func pendingTxn(id, status string) *models.Transaction {
	return &models.Transaction{TransactionID: id, Status: status}
}

func TestRunEmitsOnlyOnChange(t *testing.T) {
	api := &fakeStatusAPI{byID: map[string]coreapi.Document{
		"txn-1": {"status": "Completed"},
		"txn-2": {"status": "pending"},
	}}
	repo := &fakeTxnRepo{pending: []*models.Transaction{
		pendingTxn("txn-1", models.TxnStatusPending),
		pendingTxn("txn-2", models.TxnStatusPending),
	}}

	rec, emitter := testReconciler(t, api, repo)
	stats := rec.Run(context.Background())

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 0, stats.Errors)

	require.Len(t, emitter.updates, 1)
	assert.Equal(t, "txn-1", emitter.updates[0].TransactionID)
	assert.Equal(t, models.TxnStatusCompleted, emitter.updates[0].Status)
}

func TestRunCountsUnmappedStatus(t *testing.T) {
	api := &fakeStatusAPI{byID: map[string]coreapi.Document{
		"txn-1": {"status": "some_new_state"},
	}}
	repo := &fakeTxnRepo{pending: []*models.Transaction{pendingTxn("txn-1", models.TxnStatusPending)}}

	rec, emitter := testReconciler(t, api, repo)
	stats := rec.Run(context.Background())

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, emitter.updates)
}

func TestRunContinuesPastFailures(t *testing.T) {
	api := &fakeStatusAPI{
		byID: map[string]coreapi.Document{
			"txn-2": {"status": "settled"},
		},
		errBy: map[string]error{
			"txn-1": &coreapi.APIError{StatusCode: 500, Message: "boom"},
		},
	}
	repo := &fakeTxnRepo{pending: []*models.Transaction{
		pendingTxn("txn-1", models.TxnStatusProcessing),
		pendingTxn("txn-2", models.TxnStatusProcessing),
	}}

	rec, emitter := testReconciler(t, api, repo)
	stats := rec.Run(context.Background())

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, []string{"txn-1", "txn-2"}, api.calls)
	require.Len(t, emitter.updates, 1)
	assert.Equal(t, "txn-2", emitter.updates[0].TransactionID)
}

func TestRunHandlesRepoFailure(t *testing.T) {
	repo := &fakeTxnRepo{loadErr: errors.New("db down")}
	rec, emitter := testReconciler(t, &fakeStatusAPI{}, repo)

	stats := rec.Run(context.Background())
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, emitter.updates)
}

func TestRunSweepsOnlyOpenStatuses(t *testing.T) {
	repo := &fakeTxnRepo{}
	rec, _ := testReconciler(t, &fakeStatusAPI{}, repo)

	// capture the statuses the sweep asks the repository for
	captured := []string{}
	rec.Repo = statusCapturingRepo{repo, &captured}
	rec.Run(context.Background())

	assert.ElementsMatch(t, []string{models.TxnStatusPending, models.TxnStatusProcessing}, captured)
}

type statusCapturingRepo struct {
	*fakeTxnRepo
	captured *[]string
}

func (r statusCapturingRepo) GetByStatuses(ctx context.Context, statuses ...string) ([]*models.Transaction, error) {
	*r.captured = append(*r.captured, statuses...)
	return nil, nil
}
