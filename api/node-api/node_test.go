// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package node_api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	internal_hub "github.com/homemicai/api/realtime-api/internal_hub"
	"github.com/homemicai/config"
	internal_entity "github.com/homemicai/internal/entity"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

// recordingConn captures broadcast frames for inspection.
type recordingConn struct {
	mu     sync.Mutex
	events []internal_hub.Event
}

func (c *recordingConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, v.(internal_hub.Event))
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) last() (internal_hub.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return internal_hub.Event{}, false
	}
	return c.events[len(c.events)-1], true
}

func newNodeTestRouter(t *testing.T) (*gin.Engine, *internal_registry.Registry, *recordingConn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := commons.NewApplicationLogger(commons.Name("test-node"), commons.Level("debug"))
	require.NoError(t, err)
	db, err := connectors.NewSqliteConnector(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(internal_entity.All()...))

	registry := internal_registry.NewRegistry(logger, db)
	hub := internal_hub.NewHub(logger)
	observer := &recordingConn{}
	hub.AddObserver(observer)

	cfg := &config.AppConfig{Name: "homemic-test", Version: "0.0.0"}
	api := NewNodeApi(cfg, logger, registry, hub)

	engine := gin.New()
	engine.POST("/api/nodes/:id/audio-level", api.AudioLevel)
	return engine, registry, observer
}

func TestAudioLevelNormalizesRawRMS(t *testing.T) {
	engine, registry, observer := newNodeTestRouter(t)
	node, err := registry.Create(context.Background(), "Office", "desk")
	require.NoError(t, err)

	cases := []struct {
		name  string
		level string
		want  float64
	}{
		{"quiet room", "5000", 15.258789},
		{"silence", "0", 0},
		{"full scale clamps", "32768", 100},
		{"negative clamps", "-12", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/nodes/"+node.Id+"/audio-level?level="+tc.level, nil)
			engine.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			event, ok := observer.last()
			require.True(t, ok)
			require.Equal(t, internal_hub.EventAudioLevel, event.Type)
			data := event.Data.(gin.H)
			assert.Equal(t, node.Id, data["node_id"])
			assert.InDelta(t, tc.want, data["level"].(float64), 0.001)
		})
	}
}

func TestAudioLevelRejectsNonNumeric(t *testing.T) {
	engine, registry, _ := newNodeTestRouter(t)
	node, err := registry.Create(context.Background(), "Office", "desk")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/nodes/"+node.Id+"/audio-level?level=loud", nil)
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioLevelUnknownNode(t *testing.T) {
	engine, _, _ := newNodeTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/nodes/ghost/audio-level?level=100", nil)
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
