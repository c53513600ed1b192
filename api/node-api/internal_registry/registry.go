// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

// ErrNodeNotFound is returned for lookups of unknown node ids.
var ErrNodeNotFound = errors.New("node not found")

// Overall system health values.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthOffline  = "offline"
)

// NodeHealth is one node's derived liveness view.
type NodeHealth struct {
	Id       string    `json:"id"`
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Health is the aggregate system view.
type Health struct {
	Overall string       `json:"overall"`
	Nodes   []NodeHealth `json:"nodes"`
}

// Registry tracks node identity and liveness. Touch is the only
// server-side writer of last_seen; everything else derives status from
// it against the liveness threshold.
type Registry struct {
	logger commons.Logger
	db     connectors.DatabaseConnector
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

func NewRegistry(logger commons.Logger, db connectors.DatabaseConnector) *Registry {
	return &Registry{
		logger: logger,
		db:     db,
		clock:  time.Now,
	}
}

// Create registers a new node, online as of now.
func (r *Registry) Create(ctx context.Context, name, location string) (*internal_entity.Node, error) {
	node := &internal_entity.Node{
		Name:     name,
		Location: location,
		Status:   internal_entity.NodeStatusOnline,
		LastSeen: r.clock().UTC(),
	}
	if err := r.db.DB(ctx).Create(node).Error; err != nil {
		return nil, fmt.Errorf("failed to register node %q: %w", name, err)
	}
	r.logger.Infof("registered node %s (%s / %s)", node.Id, name, location)
	return node, nil
}

// Get returns a node with its status derived from last_seen.
func (r *Registry) Get(ctx context.Context, id string) (*internal_entity.Node, error) {
	var node internal_entity.Node
	if err := r.db.DB(ctx).First(&node, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}
	r.derive(&node)
	return &node, nil
}

// List returns all nodes with derived statuses.
func (r *Registry) List(ctx context.Context) ([]*internal_entity.Node, error) {
	var nodes []*internal_entity.Node
	if err := r.db.DB(ctx).Order("created_at").Find(&nodes).Error; err != nil {
		return nil, err
	}
	for _, node := range nodes {
		r.derive(node)
	}
	return nodes, nil
}

// NodeUpdate carries the mutable operator-facing settings.
type NodeUpdate struct {
	Name           *string `json:"name"`
	Location       *string `json:"location"`
	AudioFiltering *bool   `json:"audio_filtering"`
}

// Update changes a node's settings; liveness fields are untouchable here.
func (r *Registry) Update(ctx context.Context, id string, update NodeUpdate) (*internal_entity.Node, error) {
	node, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		node.Name = *update.Name
	}
	if update.Location != nil {
		node.Location = *update.Location
	}
	if update.AudioFiltering != nil {
		node.AudioFiltering = *update.AudioFiltering
	}
	if err := r.db.DB(ctx).Model(node).Select("name", "location", "audio_filtering").Updates(node).Error; err != nil {
		return nil, fmt.Errorf("failed to update node %s: %w", id, err)
	}
	return node, nil
}

// Delete removes a node. Administrative action; the coordination core
// itself never calls this.
func (r *Registry) Delete(ctx context.Context, id string) error {
	res := r.db.DB(ctx).Delete(&internal_entity.Node{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// Touch refreshes a node's liveness from a heartbeat or activity event.
// last_seen only moves forward.
func (r *Registry) Touch(ctx context.Context, id string, latency float64, address string) error {
	now := r.clock().UTC()
	updates := map[string]interface{}{
		"last_seen": now,
		"status":    internal_entity.NodeStatusOnline,
		"latency":   latency,
	}
	if address != "" {
		updates["ip_address"] = address
	}
	res := r.db.DB(ctx).Model(&internal_entity.Node{}).
		Where("id = ? AND last_seen <= ?", id, now).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either unknown id or a clock-skewed touch older than the row.
		var count int64
		r.db.DB(ctx).Model(&internal_entity.Node{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return ErrNodeNotFound
		}
	}
	return nil
}

// MarkOffline records that a node's control channel dropped.
func (r *Registry) MarkOffline(ctx context.Context, id string) {
	if err := r.db.DB(ctx).Model(&internal_entity.Node{}).
		Where("id = ?", id).
		Update("status", internal_entity.NodeStatusOffline).Error; err != nil {
		r.logger.Warnf("could not mark node %s offline: %v", id, err)
	}
}

// DeriveHealth computes per-node and aggregate liveness. Zero registered
// nodes is degraded, not healthy: a fresh install must not look green.
func (r *Registry) DeriveHealth(ctx context.Context) (Health, error) {
	nodes, err := r.List(ctx)
	if err != nil {
		return Health{}, err
	}

	now := r.clock().UTC()
	health := Health{Nodes: make([]NodeHealth, 0, len(nodes))}
	online := 0
	for _, node := range nodes {
		status := internal_entity.NodeStatusOffline
		if node.Online(now) {
			status = internal_entity.NodeStatusOnline
			online++
		}
		health.Nodes = append(health.Nodes, NodeHealth{
			Id:       node.Id,
			Name:     node.Name,
			Location: node.Location,
			Status:   status,
			LastSeen: node.LastSeen,
		})
	}

	switch {
	case len(nodes) == 0:
		health.Overall = HealthDegraded
	case online == len(nodes):
		health.Overall = HealthHealthy
	case online > 0:
		health.Overall = HealthDegraded
	default:
		health.Overall = HealthOffline
	}
	return health, nil
}

func (r *Registry) derive(node *internal_entity.Node) {
	if node.Online(r.clock().UTC()) {
		node.Status = internal_entity.NodeStatusOnline
	} else {
		node.Status = internal_entity.NodeStatusOffline
	}
}
