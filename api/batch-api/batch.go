// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package batch_api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	internal_ingest "github.com/homemicai/api/batch-api/internal_ingest"
	"github.com/homemicai/config"
	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

type batchApi struct {
	cfg         *config.AppConfig
	logger      commons.Logger
	db          connectors.DatabaseConnector
	coordinator *internal_ingest.Coordinator
}

// NewBatchApi wires the clip upload and history surface around the
// ingest coordinator.
func NewBatchApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	db connectors.DatabaseConnector,
	coordinator *internal_ingest.Coordinator,
) *batchApi {
	return &batchApi{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		coordinator: coordinator,
	}
}

// Upload receives one clip from a node and acks as soon as the file is
// durable; transcription happens later.
func (b *batchApi) Upload(c *gin.Context) {
	nodeId := c.PostForm("node_id")
	if nodeId == "" {
		nodeId = c.Query("node_id")
	}
	if nodeId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
		return
	}
	recordedAt := c.PostForm("recorded_at")
	if recordedAt == "" {
		recordedAt = c.Query("recorded_at")
	}

	fileHeader, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}
	defer file.Close()

	clip, err := b.coordinator.AcceptUpload(c.Request.Context(), nodeId, fileHeader.Filename, file, recordedAt)
	if err != nil {
		switch {
		case errors.Is(err, internal_ingest.ErrUnknownNode):
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		case errors.Is(err, internal_ingest.ErrUnsupportedFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "only WAV files are supported"})
		case errors.Is(err, internal_ingest.ErrFileTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		default:
			b.logger.Errorf("upload from node %s failed: %v", nodeId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store clip"})
		}
		return
	}

	// A replayed upload echoes the clip it already produced, status and
	// all; only a fresh pending clip is reported as in flight.
	status := clip.Status
	if status == internal_entity.ClipStatusPending {
		status = internal_entity.ClipStatusProcessing
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"clip_id":   clip.Id,
		"filename":  clip.Filename,
		"duration":  clip.DurationSeconds,
		"file_size": clip.FileSize,
	})
}

// History lists clips newest-first with optional node/status filters.
func (b *batchApi) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	query := b.db.DB(c.Request.Context()).Model(&internal_entity.BatchClip{})
	if nodeId := c.Query("node_id"); nodeId != "" {
		query = query.Where("node_id = ?", nodeId)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if date := c.Query("date"); date != "" {
		query = query.Where("date(recorded_at) = ?", date)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		b.logger.Errorf("clip history count failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list clips"})
		return
	}

	var clips []*internal_entity.BatchClip
	if err := query.Order("recorded_at DESC").Limit(limit).Offset(offset).Find(&clips).Error; err != nil {
		b.logger.Errorf("clip history query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list clips"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"clips":  clips,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ClipDetail returns one clip with its segments in playback order.
func (b *batchApi) ClipDetail(c *gin.Context) {
	var clip internal_entity.BatchClip
	err := b.db.DB(c.Request.Context()).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("start_time ASC") }).
		First(&clip, "id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "clip not found"})
			return
		}
		b.logger.Errorf("clip lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load clip"})
		return
	}
	c.JSON(http.StatusOK, clip)
}

// ClipAudio streams the stored WAV for playback.
func (b *batchApi) ClipAudio(c *gin.Context) {
	var clip internal_entity.BatchClip
	err := b.db.DB(c.Request.Context()).First(&clip, "id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "clip not found"})
			return
		}
		b.logger.Errorf("clip lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load clip"})
		return
	}
	if _, err := os.Stat(clip.FilePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audio file no longer on disk"})
		return
	}
	c.Header("Content-Type", "audio/wav")
	c.File(clip.FilePath)
}

// DeleteClip removes the record, its segments and the audio file.
func (b *batchApi) DeleteClip(c *gin.Context) {
	db := b.db.DB(c.Request.Context())
	var clip internal_entity.BatchClip
	if err := db.First(&clip, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "clip not found"})
			return
		}
		b.logger.Errorf("clip lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load clip"})
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("clip_id = ?", clip.Id).Delete(&internal_entity.TranscriptSegment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&clip).Error
	})
	if err != nil {
		b.logger.Errorf("clip delete failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete clip"})
		return
	}
	if err := os.Remove(clip.FilePath); err != nil && !os.IsNotExist(err) {
		b.logger.Warnf("could not remove audio file %s: %v", clip.FilePath, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "clip_id": clip.Id})
}
