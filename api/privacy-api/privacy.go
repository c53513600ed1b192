// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package privacy_api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	internal_zones "github.com/homemicai/api/privacy-api/internal_zones"
	"github.com/homemicai/config"
	"github.com/homemicai/pkg/commons"
)

type privacyApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	registry *internal_registry.Registry
	zones    *internal_zones.Service
}

// NewPrivacyApi wires the mute/unmute surface. The registry is consulted
// so zone operations on unknown nodes fail fast.
func NewPrivacyApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	registry *internal_registry.Registry,
	zones *internal_zones.Service,
) *privacyApi {
	return &privacyApi{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		zones:    zones,
	}
}

type muteRequest struct {
	NodeId          string `json:"node_id" binding:"required"`
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason"`
}

// Mute opens a privacy zone for one node. A zero duration mutes
// indefinitely.
func (p *privacyApi) Mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
		return
	}
	if req.DurationMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_minutes must not be negative"})
		return
	}
	if _, err := p.registry.Get(c.Request.Context(), req.NodeId); err != nil {
		p.respondRegistryError(c, err)
		return
	}

	zone, err := p.zones.Mute(c.Request.Context(), req.NodeId, req.Reason, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		p.logger.Errorf("mute of node %s failed: %v", req.NodeId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mute node"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "muted", "zone": zone})
}

// Unmute closes every active zone for one node.
func (p *privacyApi) Unmute(c *gin.Context) {
	nodeId := c.Param("id")
	if _, err := p.registry.Get(c.Request.Context(), nodeId); err != nil {
		p.respondRegistryError(c, err)
		return
	}
	cleared, err := p.zones.Unmute(c.Request.Context(), nodeId)
	if err != nil {
		p.logger.Errorf("unmute of node %s failed: %v", nodeId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unmute node"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unmuted", "node_id": nodeId, "zones_cleared": cleared})
}

// Status reports whether a node is currently muted. Reading an expired
// zone retires it.
func (p *privacyApi) Status(c *gin.Context) {
	nodeId := c.Param("id")
	if _, err := p.registry.Get(c.Request.Context(), nodeId); err != nil {
		p.respondRegistryError(c, err)
		return
	}
	zone, err := p.zones.Status(c.Request.Context(), nodeId)
	if err != nil {
		p.logger.Errorf("privacy status of node %s failed: %v", nodeId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read privacy status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node_id": nodeId, "muted": zone != nil, "zone": zone})
}

// Zones lists privacy zones, optionally only the active ones.
func (p *privacyApi) Zones(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active_only", "false"))
	zones, err := p.zones.List(c.Request.Context(), activeOnly)
	if err != nil {
		p.logger.Errorf("zone listing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list zones"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"zones": zones, "count": len(zones)})
}

// MuteAll opens a zone on every registered node.
func (p *privacyApi) MuteAll(c *gin.Context) {
	var req struct {
		DurationMinutes int    `json:"duration_minutes"`
		Reason          string `json:"reason"`
	}
	// Body is optional; absent means indefinite with no reason.
	_ = c.ShouldBindJSON(&req)
	if req.DurationMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_minutes must not be negative"})
		return
	}

	nodes, err := p.registry.List(c.Request.Context())
	if err != nil {
		p.logger.Errorf("node listing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mute nodes"})
		return
	}
	muted := 0
	for _, node := range nodes {
		if _, err := p.zones.Mute(c.Request.Context(), node.Id, req.Reason, time.Duration(req.DurationMinutes)*time.Minute); err != nil {
			p.logger.Errorf("mute of node %s failed: %v", node.Id, err)
			continue
		}
		muted++
	}
	c.JSON(http.StatusOK, gin.H{"status": "muted", "nodes_muted": muted})
}

// UnmuteAll closes every active zone on every node.
func (p *privacyApi) UnmuteAll(c *gin.Context) {
	cleared, err := p.zones.UnmuteAll(c.Request.Context())
	if err != nil {
		p.logger.Errorf("unmute-all failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unmute nodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unmuted", "zones_cleared": cleared})
}

func (p *privacyApi) respondRegistryError(c *gin.Context, err error) {
	if errors.Is(err, internal_registry.ErrNodeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	p.logger.Errorf("node lookup failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "node lookup failed"})
}
