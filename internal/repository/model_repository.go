package repository

import (
	"context"
	"fmt"
	"time"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"delay-predictor/internal/domain"
)

// ModelRepository persists trained prediction artifacts and answers the
// reloader's "best recent model" lookup.
type ModelRepository interface {
	SaveModel(ctx context.Context, model *domain.PredictionModel) error
	// BestModel returns the best artifact for a delay type created within
	// maxAge: lowest RMSE first, ties broken by highest R2. Returns
	// (nil, nil) when no artifact qualifies.
	BestModel(ctx context.Context, delayType domain.DelayType, maxAge time.Duration) (*domain.PredictionModel, error)
	ListModels(ctx context.Context, limit int) ([]domain.PredictionModel, error)
}

type rethinkDBRepository struct {
	session *r.Session
	table   string
}

func NewModelRepository(session *r.Session, table string) ModelRepository {
	return &rethinkDBRepository{
		session: session,
		table:   table,
	}
}

func (repo *rethinkDBRepository) SaveModel(ctx context.Context, model *domain.PredictionModel) error {
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	result, err := r.Table(repo.table).Insert(model).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	if len(result.GeneratedKeys) > 0 {
		model.ID = result.GeneratedKeys[0]
	}

	return nil
}

func (repo *rethinkDBRepository) BestModel(ctx context.Context, delayType domain.DelayType, maxAge time.Duration) (*domain.PredictionModel, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	cursor, err := r.Table(repo.table).
		Filter(func(row r.Term) r.Term {
			return row.Field("delay_type").Eq(string(delayType)).
				And(row.Field("created_at").Ge(cutoff))
		}).
		OrderBy(
			r.Asc(func(row r.Term) r.Term { return row.Field("metrics").Field("rmse") }),
			r.Desc(func(row r.Term) r.Term { return row.Field("metrics").Field("r2") }),
		).
		Limit(1).
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to query best model: %w", err)
	}
	defer cursor.Close()

	var model domain.PredictionModel
	if err := cursor.One(&model); err != nil {
		if err == r.ErrEmptyResult {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	return &model, nil
}

func (repo *rethinkDBRepository) ListModels(ctx context.Context, limit int) ([]domain.PredictionModel, error) {
	cursor, err := r.Table(repo.table).
		OrderBy(r.Desc("created_at")).
		Limit(limit).
		Without("pipeline_binary").
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer cursor.Close()

	var models []domain.PredictionModel
	if err := cursor.All(&models); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}

	return models, nil
}
