// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package system_api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	"github.com/homemicai/config"
	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

type SystemApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	db       connectors.DatabaseConnector
	registry *internal_registry.Registry
}

// NewSystemApi wires the status, health and housekeeping surface.
func NewSystemApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	db connectors.DatabaseConnector,
	registry *internal_registry.Registry,
) *SystemApi {
	return &SystemApi{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: registry,
	}
}

// Status reports database-derived counters for the dashboard header.
func (s *SystemApi) Status(c *gin.Context) {
	db := s.db.DB(c.Request.Context())

	var nodeTotal, clipTotal, pendingClips, transcriptionTotal int64
	counts := []struct {
		model interface{}
		query map[string]interface{}
		out   *int64
	}{
		{&internal_entity.Node{}, nil, &nodeTotal},
		{&internal_entity.BatchClip{}, nil, &clipTotal},
		{&internal_entity.BatchClip{}, map[string]interface{}{"status": internal_entity.ClipStatusPending}, &pendingClips},
		{&internal_entity.Transcription{}, nil, &transcriptionTotal},
	}
	for _, count := range counts {
		query := db.Model(count.model)
		if count.query != nil {
			query = query.Where(count.query)
		}
		if err := query.Count(count.out).Error; err != nil {
			s.logger.Errorf("status count failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
			return
		}
	}

	onlineNodes := 0
	if nodes, err := s.registry.List(c.Request.Context()); err == nil {
		for _, node := range nodes {
			if node.Status == internal_entity.NodeStatusOnline {
				onlineNodes++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"name":           s.cfg.Name,
		"version":        s.cfg.Version,
		"nodes":          nodeTotal,
		"nodes_online":   onlineNodes,
		"clips":          clipTotal,
		"clips_pending":  pendingClips,
		"transcriptions": transcriptionTotal,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Health reports per-node liveness and the aggregate verdict.
func (s *SystemApi) Health(c *gin.Context) {
	health, err := s.registry.DeriveHealth(c.Request.Context())
	if err != nil {
		s.logger.Errorf("health derivation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to derive health"})
		return
	}
	c.JSON(http.StatusOK, health)
}

// Healthz answers process liveness probes.
func (s *SystemApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "name": s.cfg.Name, "version": s.cfg.Version})
}

// CleanupOldAudio removes clip audio files past the retention window.
// Transcripts and clip records stay; only the WAV on disk goes.
func (s *SystemApi) CleanupOldAudio(ctx context.Context) (int, error) {
	if s.cfg.AudioKeepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.AudioKeepDays)

	var clips []*internal_entity.BatchClip
	err := s.db.DB(ctx).
		Where("recorded_at < ? AND file_path <> ''", cutoff).
		Where("status IN ?", []string{internal_entity.ClipStatusTranscribed, internal_entity.ClipStatusFailed}).
		Find(&clips).Error
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, clip := range clips {
		if err := os.Remove(clip.FilePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warnf("could not remove %s: %v", clip.FilePath, err)
			continue
		}
		if err := s.db.DB(ctx).Model(clip).Update("file_path", "").Error; err != nil {
			s.logger.Warnf("could not clear file path of clip %s: %v", clip.Id, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Infof("retention pass removed %d audio files older than %d days", removed, s.cfg.AudioKeepDays)
	}
	return removed, nil
}

// StartCleanupLoop runs the retention pass daily until ctx is done.
func (s *SystemApi) StartCleanupLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CleanupOldAudio(ctx); err != nil {
					s.logger.Errorf("retention pass failed: %v", err)
				}
			}
		}
	}()
}
