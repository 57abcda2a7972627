/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/models"
)

// GormStore is the SQL-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetFlow loads one flow by id.
func (s *GormStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	var flow models.Flow
	err := s.db.WithContext(ctx).First(&flow, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

// ListFlows returns every flow ordered by name.
func (s *GormStore) ListFlows(ctx context.Context) ([]models.Flow, error) {
	var flows []models.Flow
	err := s.db.WithContext(ctx).Order("name ASC").Find(&flows).Error
	return flows, err
}

// ListActiveFlows returns the snapshot the conflict detector and dispatcher
// operate on: flows in active or running status.
func (s *GormStore) ListActiveFlows(ctx context.Context) ([]models.Flow, error) {
	var flows []models.Flow
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.FlowStatus{models.FlowActive, models.FlowRunning}).
		Order("name ASC").
		Find(&flows).Error
	return flows, err
}

// SaveFlow inserts or updates a flow.
func (s *GormStore) SaveFlow(ctx context.Context, flow *models.Flow) error {
	return s.db.WithContext(ctx).Save(flow).Error
}

// DeleteFlow removes a flow permanently.
func (s *GormStore) DeleteFlow(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.Flow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRun records the start of a flow execution.
func (s *GormStore) CreateRun(ctx context.Context, run *models.FlowRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// FinishRun closes a run record.
func (s *GormStore) FinishRun(ctx context.Context, runID string, at time.Time, runErr string) error {
	result := s.db.WithContext(ctx).
		Model(&models.FlowRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{"finished_at": at, "error": runErr})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs for a flow.
func (s *GormStore) ListRuns(ctx context.Context, flowID string, limit int) ([]models.FlowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.FlowRun
	err := s.db.WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// GetContentItem loads a content asset by id.
func (s *GormStore) GetContentItem(ctx context.Context, id string) (*models.ContentItem, error) {
	var item models.ContentItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetJingle loads a jingle by id.
func (s *GormStore) GetJingle(ctx context.Context, id string) (*models.Jingle, error) {
	var jingle models.Jingle
	err := s.db.WithContext(ctx).First(&jingle, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &jingle, nil
}

// ListScheduledCommercials selects active spots matching the filter, bounded
// by count and cumulative duration.
func (s *GormStore) ListScheduledCommercials(ctx context.Context, filter CommercialFilter) ([]models.CommercialSpot, error) {
	query := s.db.WithContext(ctx).Where("active = ?", true)

	if filter.Batch != "" {
		var batch models.CommercialBatch
		err := s.db.WithContext(ctx).First(&batch, "name = ?", filter.Batch).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		query = query.Where("batch_id = ?", batch.ID)
	}
	if len(filter.IncludeTypes) > 0 {
		query = query.Where("type IN ?", filter.IncludeTypes)
	}
	if len(filter.ExcludeTypes) > 0 {
		query = query.Where("type NOT IN ?", filter.ExcludeTypes)
	}

	var spots []models.CommercialSpot
	if err := query.Order("created_at ASC").Find(&spots).Error; err != nil {
		return nil, err
	}

	selected := make([]models.CommercialSpot, 0, len(spots))
	var budget time.Duration
	for _, spot := range spots {
		if filter.MaxCount > 0 && len(selected) >= filter.MaxCount {
			break
		}
		if filter.MaxDuration > 0 && budget+spot.Duration > filter.MaxDuration {
			break
		}
		selected = append(selected, spot)
		budget += spot.Duration
	}
	return selected, nil
}
