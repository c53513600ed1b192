// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_zones

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

// Service manages mute directives. The invariant it maintains: at most
// one active PrivacyZone per node. Expiry is a read-time predicate; the
// deactivating write happens on user action or on the first status read
// that observes the expiry, never from a background sweep.
type Service struct {
	logger commons.Logger
	db     connectors.DatabaseConnector
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

func NewService(logger commons.Logger, db connectors.DatabaseConnector) *Service {
	return &Service{
		logger: logger,
		db:     db,
		clock:  time.Now,
	}
}

// Mute creates the single active zone for a node, atomically deactivating
// any prior active zones in the same transaction.
func (s *Service) Mute(ctx context.Context, nodeId, reason string, duration time.Duration) (*internal_entity.PrivacyZone, error) {
	now := s.clock().UTC()
	zone := &internal_entity.PrivacyZone{
		NodeId:    nodeId,
		Reason:    reason,
		StartTime: now,
		Active:    true,
	}
	if duration > 0 {
		end := now.Add(duration)
		zone.EndTime = &end
	}

	err := s.db.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&internal_entity.PrivacyZone{}).
			Where("node_id = ? AND active = ?", nodeId, true).
			Updates(map[string]interface{}{"active": false, "end_time": now}).Error; err != nil {
			return err
		}
		return tx.Create(zone).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mute node %s: %w", nodeId, err)
	}

	s.logger.Infof("muted node %s (reason=%q, until=%v)", nodeId, reason, zone.EndTime)
	return zone, nil
}

// Unmute deactivates every active zone for the node and returns how many
// were closed. Other nodes' zones are untouched.
func (s *Service) Unmute(ctx context.Context, nodeId string) (int64, error) {
	now := s.clock().UTC()
	res := s.db.DB(ctx).Model(&internal_entity.PrivacyZone{}).
		Where("node_id = ? AND active = ?", nodeId, true).
		Updates(map[string]interface{}{"active": false, "end_time": now})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to unmute node %s: %w", nodeId, res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Infof("unmuted node %s (%d zone(s) closed)", nodeId, res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// UnmuteAll deactivates every active zone across all nodes.
func (s *Service) UnmuteAll(ctx context.Context) (int64, error) {
	now := s.clock().UTC()
	res := s.db.DB(ctx).Model(&internal_entity.PrivacyZone{}).
		Where("active = ?", true).
		Updates(map[string]interface{}{"active": false, "end_time": now})
	return res.RowsAffected, res.Error
}

// Status returns the zone currently muting the node, or nil. A zone past
// its end time is persisted inactive as a side effect of this read.
func (s *Service) Status(ctx context.Context, nodeId string) (*internal_entity.PrivacyZone, error) {
	var zone internal_entity.PrivacyZone
	err := s.db.DB(ctx).
		Where("node_id = ? AND active = ?", nodeId, true).
		First(&zone).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	if !zone.Muting(now) {
		// Lazily persist the expiry we just observed.
		if err := s.db.DB(ctx).Model(&zone).Update("active", false).Error; err != nil {
			s.logger.Warnf("could not persist zone expiry for node %s: %v", nodeId, err)
		}
		return nil, nil
	}
	return &zone, nil
}

// List returns zones, optionally only the ones still marked active.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*internal_entity.PrivacyZone, error) {
	q := s.db.DB(ctx).Order("start_time DESC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var zones []*internal_entity.PrivacyZone
	if err := q.Find(&zones).Error; err != nil {
		return nil, err
	}
	return zones, nil
}
