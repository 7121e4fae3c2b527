package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planner/internal/model"
)

// EndpointRepository stores push subscriptions.
type EndpointRepository struct {
	db *gorm.DB
}

func NewEndpointRepository(db *gorm.DB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

// Upsert inserts the endpoint or refreshes the keys of an existing one.
func (r *EndpointRepository) Upsert(ctx context.Context, ep *model.PushEndpoint) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(ep).Error
	if err != nil {
		return fmt.Errorf("upsert endpoint: %w", err)
	}
	return nil
}

func (r *EndpointRepository) List(ctx context.Context) ([]model.PushEndpoint, error) {
	var endpoints []model.PushEndpoint
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return endpoints, nil
}

func (r *EndpointRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if err := r.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushEndpoint{}).Error; err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}
