// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package node_api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	internal_hub "github.com/homemicai/api/realtime-api/internal_hub"
	"github.com/homemicai/config"
	"github.com/homemicai/pkg/commons"
)

type nodeApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	registry *internal_registry.Registry
	hub      *internal_hub.Hub
}

// NewNodeApi wires node registration, CRUD and the heartbeat surface.
func NewNodeApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	registry *internal_registry.Registry,
	hub *internal_hub.Hub,
) *nodeApi {
	return &nodeApi{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		hub:      hub,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Location string `json:"location"`
}

// Register creates a node record; the node persists the returned id and
// reuses it across restarts.
func (n *nodeApi) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	node, err := n.registry.Create(c.Request.Context(), req.Name, req.Location)
	if err != nil {
		n.logger.Errorf("node registration failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register node"})
		return
	}
	n.logger.Infof("registered node %s (%s @ %s)", node.Id, node.Name, node.Location)
	c.JSON(http.StatusOK, node)
}

func (n *nodeApi) List(c *gin.Context) {
	nodes, err := n.registry.List(c.Request.Context())
	if err != nil {
		n.logger.Errorf("node listing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list nodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
}

func (n *nodeApi) Get(c *gin.Context) {
	node, err := n.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		n.respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

type updateRequest struct {
	Name           *string `json:"name"`
	Location       *string `json:"location"`
	AudioFiltering *bool   `json:"audio_filtering"`
}

func (n *nodeApi) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update payload"})
		return
	}
	node, err := n.registry.Update(c.Request.Context(), c.Param("id"), internal_registry.NodeUpdate{
		Name:           req.Name,
		Location:       req.Location,
		AudioFiltering: req.AudioFiltering,
	})
	if err != nil {
		n.respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (n *nodeApi) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := n.registry.Delete(c.Request.Context(), id); err != nil {
		n.respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "node_id": id})
}

// Heartbeat is the node's liveness signal and the only server-side
// writer of last_seen.
func (n *nodeApi) Heartbeat(c *gin.Context) {
	id := c.Param("id")
	latency, _ := strconv.ParseFloat(c.Query("latency"), 64)
	address := c.Query("ip_address")
	if address == "" {
		address = c.ClientIP()
	}

	if err := n.registry.Touch(c.Request.Context(), id, latency, address); err != nil {
		n.respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node_id": id})
}

// AudioLevel reports the node's current capture level; counts as a
// liveness signal and is fanned out to dashboard observers. Nodes send
// raw 16-bit RMS (0..32768); normalization to the dashboard's 0..100
// scale happens here so every client speaks the same unit.
func (n *nodeApi) AudioLevel(c *gin.Context) {
	id := c.Param("id")
	rms, err := strconv.ParseFloat(c.Query("level"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level must be numeric"})
		return
	}
	level := rms / 327.68
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}

	if err := n.registry.Touch(c.Request.Context(), id, 0, c.ClientIP()); err != nil {
		n.respondRegistryError(c, err)
		return
	}

	n.hub.Broadcast(internal_hub.Event{
		Type: internal_hub.EventAudioLevel,
		Data: gin.H{
			"node_id":   id,
			"level":     level,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (n *nodeApi) respondRegistryError(c *gin.Context, err error) {
	if errors.Is(err, internal_registry.ErrNodeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	n.logger.Errorf("node registry error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "node operation failed"})
}
