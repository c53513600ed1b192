// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package batch_api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_ingest "github.com/homemicai/api/batch-api/internal_ingest"
	"github.com/homemicai/config"
	internal_entity "github.com/homemicai/internal/entity"
	internal_transcribe "github.com/homemicai/internal/transcribe"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
	"github.com/homemicai/pkg/utils"
)

type staticTranscriber struct{}

func (staticTranscriber) TranscribeFile(ctx context.Context, path string) (internal_transcribe.Result, error) {
	return internal_transcribe.Result{Text: "hello world"}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, connectors.DatabaseConnector) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := commons.NewApplicationLogger(commons.Name("test-batch"), commons.Level("debug"))
	require.NoError(t, err)
	db, err := connectors.NewSqliteConnector(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(internal_entity.All()...))

	coordinator := internal_ingest.NewCoordinator(
		logger, db, staticTranscriber{}, t.TempDir(), 1<<20, 1)
	t.Cleanup(coordinator.Stop)

	cfg := &config.AppConfig{Name: "homemic-test", Version: "0.0.0"}
	api := NewBatchApi(cfg, logger, db, coordinator)

	engine := gin.New()
	engine.POST("/api/batch/upload", api.Upload)
	engine.GET("/api/batch/history", api.History)
	engine.GET("/api/batch/clips/:id", api.ClipDetail)
	engine.DELETE("/api/batch/clips/:id", api.DeleteClip)
	return engine, db
}

func createNode(t *testing.T, db connectors.DatabaseConnector) *internal_entity.Node {
	t.Helper()
	node := &internal_entity.Node{Name: "Office", Status: internal_entity.NodeStatusOnline, LastSeen: time.Now().UTC()}
	require.NoError(t, db.DB(context.Background()).Create(node).Error)
	return node
}

func multipartUpload(t *testing.T, nodeId, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("node_id", nodeId))
	require.NoError(t, writer.WriteField("recorded_at", "2026-03-14T09:26:53Z"))
	part, err := writer.CreateFormFile("audio", filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func testWAV(t *testing.T) []byte {
	t.Helper()
	wav, err := utils.CreateWAVFile(make([]byte, 32000), utils.AudioSampleRate, utils.AudioChannels)
	require.NoError(t, err)
	return wav
}

func TestUploadStatusCodes(t *testing.T) {
	engine, db := newTestRouter(t)
	node := createNode(t, db)

	cases := []struct {
		name     string
		nodeId   string
		filename string
		want     int
	}{
		{"unknown node", "ghost", "clip_20260314_092653.wav", http.StatusNotFound},
		{"wrong extension", node.Id, "notes.mp3", http.StatusBadRequest},
		{"accepted", node.Id, "clip_20260314_092653.wav", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tc.nodeId, tc.filename, testWAV(t))
			req := httptest.NewRequest(http.MethodPost, "/api/batch/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestUploadAcksBeforeTranscription(t *testing.T) {
	engine, db := newTestRouter(t)
	node := createNode(t, db)

	body, contentType := multipartUpload(t, node.Id, "clip_20260314_093000.wav", testWAV(t))
	req := httptest.NewRequest(http.MethodPost, "/api/batch/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var ack struct {
		Status   string  `json:"status"`
		ClipId   string  `json:"clip_id"`
		Filename string  `json:"filename"`
		Duration float64 `json:"duration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "processing", ack.Status)
	assert.NotEmpty(t, ack.ClipId)
	assert.Equal(t, "clip_20260314_093000.wav", ack.Filename)
	assert.InDelta(t, 1.0, ack.Duration, 0.01)

	// Transcription lands later; the history endpoint sees it settle.
	require.Eventually(t, func() bool {
		var clip internal_entity.BatchClip
		if err := db.DB(context.Background()).First(&clip, "id = ?", ack.ClipId).Error; err != nil {
			return false
		}
		return clip.Status == internal_entity.ClipStatusTranscribed
	}, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batch/clips/"+ack.ClipId, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var clip internal_entity.BatchClip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clip))
	assert.Equal(t, "hello world", clip.TranscriptText)
	assert.Equal(t, 2, clip.WordCount)
}

func TestUploadReplayReportsSettledStatus(t *testing.T) {
	engine, db := newTestRouter(t)
	node := createNode(t, db)

	send := func() (int, map[string]interface{}) {
		body, contentType := multipartUpload(t, node.Id, "clip_20260314_094500.wav", testWAV(t))
		req := httptest.NewRequest(http.MethodPost, "/api/batch/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		var ack map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
		return rec.Code, ack
	}

	code, first := send()
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "processing", first["status"])

	require.Eventually(t, func() bool {
		var clip internal_entity.BatchClip
		if err := db.DB(context.Background()).First(&clip, "id = ?", first["clip_id"]).Error; err != nil {
			return false
		}
		return clip.Status == internal_entity.ClipStatusTranscribed
	}, 5*time.Second, 10*time.Millisecond)

	// The retransmitted upload must echo the clip we already have, not
	// pretend the work is still in flight.
	code, second := send()
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, first["clip_id"], second["clip_id"])
	assert.Equal(t, internal_entity.ClipStatusTranscribed, second["status"])
}

func TestHistoryFiltersByNode(t *testing.T) {
	engine, db := newTestRouter(t)
	nodeA := createNode(t, db)
	nodeB := createNode(t, db)

	for i, node := range []*internal_entity.Node{nodeA, nodeA, nodeB} {
		clip := &internal_entity.BatchClip{
			NodeId:     node.Id,
			Filename:   "clip_20260314_09000" + string(rune('0'+i)) + ".wav",
			FilePath:   "/tmp/none.wav",
			RecordedAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
			Status:     internal_entity.ClipStatusTranscribed,
		}
		require.NoError(t, db.DB(context.Background()).Create(clip).Error)
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batch/history?node_id="+nodeA.Id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Clips []internal_entity.BatchClip `json:"clips"`
		Total int64                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Clips, 2)
	// Newest first.
	assert.True(t, !page.Clips[0].RecordedAt.Before(page.Clips[1].RecordedAt))
}

func TestDeleteClipRemovesRecord(t *testing.T) {
	engine, db := newTestRouter(t)
	node := createNode(t, db)
	clip := &internal_entity.BatchClip{
		NodeId:     node.Id,
		Filename:   "clip_20260314_095000.wav",
		FilePath:   "/tmp/none.wav",
		RecordedAt: time.Now().UTC(),
		Status:     internal_entity.ClipStatusTranscribed,
	}
	require.NoError(t, db.DB(context.Background()).Create(clip).Error)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/batch/clips/"+clip.Id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batch/clips/"+clip.Id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
