package prediction

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"delay-predictor/internal/domain"
	"delay-predictor/internal/repository"
	"delay-predictor/pkg/pipeline"
)

// Reloader periodically replaces the cached pipelines with the best recent
// artifact per delay type. When the repository has no qualifying artifact
// the previously cached model keeps serving; a stale prediction beats a
// 503 storm.
type Reloader struct {
	cache    *Cache
	repo     repository.ModelRepository
	maxAge   time.Duration
	interval time.Duration
	cron     *cron.Cron
	log      *zap.Logger
}

func NewReloader(cache *Cache, repo repository.ModelRepository, maxAge, interval time.Duration, log *zap.Logger) *Reloader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reloader{
		cache:    cache,
		repo:     repo,
		maxAge:   maxAge,
		interval: interval,
		log:      log,
	}
}

// Start performs an immediate reload, then schedules recurring ones.
func (r *Reloader) Start(ctx context.Context) error {
	r.ReloadAll(ctx)

	r.cron = cron.New()
	_, err := r.cron.AddFunc("@every "+r.interval.String(), func() {
		r.ReloadAll(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("model reloader started", zap.Duration("interval", r.interval))
	return nil
}

func (r *Reloader) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// ReloadAll refreshes both delay types independently; a failure on one does
// not block the other.
func (r *Reloader) ReloadAll(ctx context.Context) {
	for _, t := range domain.DelayTypes() {
		if err := r.reload(ctx, t); err != nil {
			r.log.Error("model reload failed",
				zap.String("delay_type", string(t)), zap.Error(err))
		}
	}
}

func (r *Reloader) reload(ctx context.Context, t domain.DelayType) error {
	model, err := r.repo.BestModel(ctx, t, r.maxAge)
	if err != nil {
		return err
	}
	if model == nil {
		current := r.cache.Get(t)
		if current != nil {
			r.log.Warn("no recent model found, keeping cached one",
				zap.String("delay_type", string(t)),
				zap.String("model_id", current.ModelID),
				zap.Time("created_at", current.CreatedAt))
		} else {
			r.log.Warn("no model available",
				zap.String("delay_type", string(t)))
		}
		return nil
	}

	current := r.cache.Get(t)
	if current != nil && current.ModelID == model.ID {
		return nil
	}

	p, err := pipeline.LoadPipeline(model.PipelineBinary, r.log)
	if err != nil {
		return err
	}

	r.cache.Put(&CachedModel{
		ModelID:   model.ID,
		DelayType: t,
		Pipeline:  p,
		Metrics:   model.Metrics,
		CreatedAt: model.CreatedAt,
	})
	r.log.Info("model loaded",
		zap.String("delay_type", string(t)),
		zap.String("model_id", model.ID),
		zap.Float64("rmse", model.Metrics.RMSE),
		zap.Float64("r2", model.Metrics.R2))
	return nil
}
