package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pitabwire/frame"

	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/events"
	"github.com/antinvestor/monarch-ach/service/models"
	"github.com/antinvestor/monarch-ach/service/repository"
)

const lastRunKey = "monarch:reconcile:last_run"

type statusAPI interface {
	TransactionStatus(ctx context.Context, transactionID string) (coreapi.Document, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// RunStats summarizes one reconciliation sweep.
type RunStats struct {
	Processed int       `json:"processed"`
	Updated   int       `json:"updated"`
	Errors    int       `json:"errors"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// StatusReconciler polls the provider for transactions stuck in a
// non-final status and records any transitions it finds.
type StatusReconciler struct {
	Service     *frame.Service
	Client      statusAPI
	Repo        repository.TransactionRepository
	RedisClient *redis.Client
	Interval    time.Duration

	// Emitter overrides the service event bus, for tests mostly.
	Emitter eventEmitter
}

func (rec *StatusReconciler) emit(ctx context.Context, name string, payload any) error {
	if rec.Emitter != nil {
		return rec.Emitter.Emit(ctx, name, payload)
	}
	return rec.Service.Emit(ctx, name, payload)
}

// Start blocks, sweeping on the configured interval until the context is
// cancelled. Run it on a goroutine.
func (rec *StatusReconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(rec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec.Run(ctx)
		}
	}
}

// Run performs a single sweep. Per-transaction failures are counted and
// skipped so one bad record cannot stall the batch.
func (rec *StatusReconciler) Run(ctx context.Context) RunStats {
	logger := rec.Service.Log(ctx).WithField("worker", "status_reconciler")

	stats := RunStats{StartedAt: time.Now()}

	pending, err := rec.Repo.GetByStatuses(ctx,
		models.TxnStatusPending, models.TxnStatusProcessing)
	if err != nil {
		logger.WithError(err).Error("could not load pending transactions")
		stats.Errors++
		rec.persistStats(ctx, &stats)
		return stats
	}

	for _, transaction := range pending {
		stats.Processed++
		updated, err := rec.reconcileOne(ctx, transaction)
		if err != nil {
			logger.WithError(err).
				WithField("transaction_id", transaction.TransactionID).
				Warn("could not reconcile transaction")
			stats.Errors++
			continue
		}
		if updated {
			stats.Updated++
		}
	}

	rec.persistStats(ctx, &stats)
	logger.WithField("processed", stats.Processed).
		WithField("updated", stats.Updated).
		WithField("errors", stats.Errors).
		Info("reconciliation sweep finished")
	return stats
}

// reconcileOne fetches the provider's view of one transaction and emits a
// status event only when something actually changed.
func (rec *StatusReconciler) reconcileOne(ctx context.Context, transaction *models.Transaction) (bool, error) {
	doc, err := rec.Client.TransactionStatus(ctx, transaction.TransactionID)
	if err != nil {
		return false, err
	}

	mapped, ok := models.MapProviderStatus(doc.Status())
	if !ok {
		return false, errUnmappedStatus(doc.Status())
	}
	if mapped == transaction.Status {
		return false, nil
	}

	statusEvent := events.TransactionStatusSave{}
	err = rec.emit(ctx, statusEvent.Name(), events.StatusUpdate{
		TransactionID: transaction.TransactionID,
		Status:        mapped,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (rec *StatusReconciler) persistStats(ctx context.Context, stats *RunStats) {
	stats.Duration = time.Since(stats.StartedAt).String()

	if rec.RedisClient == nil {
		return
	}
	blob, err := json.Marshal(stats)
	if err != nil {
		return
	}
	err = rec.RedisClient.Set(lastRunKey, blob, 0).Err()
	if err != nil {
		rec.Service.Log(ctx).WithError(err).Warn("could not persist reconcile stats")
	}
}

// LastRun returns the stats of the most recent sweep, or nil when none
// has happened yet.
func (rec *StatusReconciler) LastRun(ctx context.Context) (*RunStats, error) {
	if rec.RedisClient == nil {
		return nil, nil
	}
	blob, err := rec.RedisClient.Get(lastRunKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	stats := RunStats{}
	if err = json.Unmarshal([]byte(blob), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

type errUnmappedStatus string

func (e errUnmappedStatus) Error() string {
	return "worker: provider returned unrecognized status " + string(e)
}
