// worker/worker.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"delay-predictor/internal/aggregator"
	"delay-predictor/internal/config"
	"delay-predictor/internal/domain"
	"delay-predictor/internal/infrastructure"
	"delay-predictor/internal/messaging"
	"delay-predictor/internal/repository"
	"delay-predictor/pkg/pipeline"
)

// Worker drives the training side of the service: it periodically asks the
// collectors for a fresh data batch, aggregates the streamed responses and,
// once a batch completes, trains one pipeline per delay type and persists
// the artifacts.
type Worker struct {
	id        string
	store     *aggregator.Store
	decoder   *infrastructure.RecordDecoder
	repo      repository.ModelRepository
	msgClient messaging.MessageClient
	cfg       *config.Config
	log       *zap.Logger

	cron      *cron.Cron
	stopChan  chan struct{}
	wg        sync.WaitGroup
	isRunning atomic.Bool
	trained   atomic.Int64
	failed    atomic.Int64
	training  atomic.Int32
}

func NewWorker(id string, store *aggregator.Store, decoder *infrastructure.RecordDecoder,
	repo repository.ModelRepository, msgClient messaging.MessageClient,
	cfg *config.Config, log *zap.Logger) *Worker {

	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		id:        id,
		store:     store,
		decoder:   decoder,
		repo:      repo,
		msgClient: msgClient,
		cfg:       cfg,
		log:       log,
		stopChan:  make(chan struct{}),
	}
}

// Start subscribes to batch responses, publishes an initial data request,
// schedules recurring ones and blocks until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.isRunning.Store(true)
	w.log.Info("worker starting", zap.String("id", w.id))

	if err := w.msgClient.SubscribeToResponses(ctx, w.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to responses: %w", err)
	}

	if _, err := w.msgClient.PublishBatchRequest(ctx); err != nil {
		// Non-fatal: the schedule retries.
		w.log.Error("initial batch request failed", zap.Error(err))
	}

	w.cron = cron.New()
	if _, err := w.cron.AddFunc("@every "+w.cfg.RequestInterval.String(), func() {
		if _, err := w.msgClient.PublishBatchRequest(context.Background()); err != nil {
			w.log.Error("scheduled batch request failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule batch requests: %w", err)
	}
	w.cron.Start()

	go w.runMonitor(ctx)

	<-w.stopChan
	w.isRunning.Store(false)

	<-w.cron.Stop().Done()
	w.wg.Wait()

	w.log.Info("worker stopped",
		zap.String("id", w.id),
		zap.Int64("trained", w.trained.Load()),
		zap.Int64("failed", w.failed.Load()))
	return nil
}

func (w *Worker) runMonitor(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.log.Info("worker stats",
				zap.String("id", w.id),
				zap.Int64("trained", w.trained.Load()),
				zap.Int64("failed", w.failed.Load()),
				zap.Int32("training", w.training.Load()),
				zap.Int("pending_batches", w.store.Pending()))
		case <-w.stopChan:
			return
		}
	}
}

// handleEvent feeds the aggregator; a completed batch kicks off training.
func (w *Worker) handleEvent(ev domain.DataTransferEvent) {
	records, ok := w.store.Ingest(ev)
	if !ok {
		return
	}
	if len(records) == 0 {
		w.log.Warn("completed batch is empty, skipping training",
			zap.String("key", ev.Key))
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.trainBatch(ev.Key, records)
	}()
}

// trainBatch trains both delay types concurrently. Each trainer decodes its
// own copy of the records, so the two runs share no mutable state; a
// failure on one never aborts the other.
func (w *Worker) trainBatch(key string, records []domain.RawRecord) {
	start := time.Now()
	w.log.Info("training on completed batch",
		zap.String("key", key), zap.Int("records", len(records)))

	var tg sync.WaitGroup
	for _, delayType := range domain.DelayTypes() {
		tg.Add(1)
		go func(t domain.DelayType) {
			defer tg.Done()
			w.training.Add(1)
			defer w.training.Add(-1)

			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TrainTimeout)
			defer cancel()

			if err := w.trainOne(ctx, t, records); err != nil {
				w.log.Error("training failed",
					zap.String("key", key),
					zap.String("delay_type", string(t)),
					zap.Error(err))
				w.failed.Add(1)
				return
			}
			w.trained.Add(1)
		}(delayType)
	}
	tg.Wait()

	w.log.Info("batch done",
		zap.String("key", key),
		zap.Duration("duration", time.Since(start)))
}

func (w *Worker) trainOne(ctx context.Context, delayType domain.DelayType, records []domain.RawRecord) error {
	rows := w.decoder.DecodeRecords(records)
	if len(rows) == 0 {
		return fmt.Errorf("no decodable records")
	}

	target := pipeline.TargetArrival
	if delayType == domain.DelayTypeDeparture {
		target = pipeline.TargetDeparture
	}

	cfg := pipeline.DefaultTrainConfig(target)
	cfg.Cleaner.HolidayCountry = w.cfg.HolidayCountry

	result, err := pipeline.Train(target, rows, cfg, w.log)
	if err != nil {
		return err
	}

	binary, err := result.Pipeline.Marshal()
	if err != nil {
		return fmt.Errorf("serializing pipeline: %w", err)
	}

	model := &domain.PredictionModel{
		DelayType:      delayType,
		PipelineBinary: binary,
		Metrics: domain.ModelMetrics{
			MAE:  result.Metrics.MAE,
			MSE:  result.Metrics.MSE,
			RMSE: result.Metrics.RMSE,
			R2:   result.Metrics.R2,
		},
		RowCount:  result.Rows,
		CreatedAt: time.Now().UTC(),
	}

	if err := w.repo.SaveModel(ctx, model); err != nil {
		return fmt.Errorf("persisting model: %w", err)
	}

	w.log.Info("model saved",
		zap.String("delay_type", string(delayType)),
		zap.String("model_id", model.ID),
		zap.Int("rows", model.RowCount),
		zap.Float64("rmse", model.Metrics.RMSE))
	return nil
}

func (w *Worker) Stop() {
	if w.isRunning.CompareAndSwap(true, false) {
		w.log.Info("stopping worker", zap.String("id", w.id))
		close(w.stopChan)
	}
}

func (w *Worker) GetStats() map[string]any {
	return map[string]any{
		"id":              w.id,
		"running":         w.isRunning.Load(),
		"trained":         w.trained.Load(),
		"failed":          w.failed.Load(),
		"training":        w.training.Load(),
		"pending_batches": w.store.Pending(),
	}
}

func (w *Worker) IsRunning() bool {
	return w.isRunning.Load()
}
