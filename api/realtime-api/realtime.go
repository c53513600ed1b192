// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package realtime_api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	internal_zones "github.com/homemicai/api/privacy-api/internal_zones"
	internal_hub "github.com/homemicai/api/realtime-api/internal_hub"
	"github.com/homemicai/config"
	internal_entity "github.com/homemicai/internal/entity"
	internal_transcribe "github.com/homemicai/internal/transcribe"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
	"github.com/homemicai/pkg/utils"
)

const (
	// initialStateLimit bounds the catch-up burst a fresh observer gets.
	initialStateLimit = 20
	// observerReceiveTimeout is how long a silent observer socket waits
	// before we send a heartbeat frame instead of closing it.
	observerReceiveTimeout = 30 * time.Second
	// writeTimeout bounds every outbound frame.
	writeTimeout = 10 * time.Second

	// Streaming VAD parameters for the legacy node socket: 16 kHz mono
	// 16-bit PCM, utterances cut after this much trailing silence.
	speechRMSThreshold = 500.0
	silenceHangover    = 8
	maxUtteranceBytes  = 30 * 16000 * 2
	minUtteranceBytes  = 16000 // shorter than ~0.5s is noise
)

type realtimeApi struct {
	cfg         *config.AppConfig
	logger      commons.Logger
	db          connectors.DatabaseConnector
	hub         *internal_hub.Hub
	registry    *internal_registry.Registry
	zones       *internal_zones.Service
	transcriber internal_transcribe.Transcriber

	upgrader websocket.Upgrader
}

// NewRealtimeApi wires the observer and node WebSocket endpoints around
// the hub.
func NewRealtimeApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	db connectors.DatabaseConnector,
	hub *internal_hub.Hub,
	registry *internal_registry.Registry,
	zones *internal_zones.Service,
	transcriber internal_transcribe.Transcriber,
) *realtimeApi {
	return &realtimeApi{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		hub:         hub,
		registry:    registry,
		zones:       zones,
		transcriber: transcriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboards are served from arbitrary LAN origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsConn adapts a gorilla connection to the hub's Conn contract. The hub
// writes from broadcast goroutines while the handler writes pongs and
// heartbeats, so every write is serialized here.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWsConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// ObserverSocket serves dashboard clients: a catch-up burst of recent
// transcriptions, then live event frames. A silent client gets periodic
// heartbeat frames rather than a disconnect.
func (r *realtimeApi) ObserverSocket(c *gin.Context) {
	socket, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warnf("observer upgrade failed: %v", err)
		return
	}
	conn := newWsConn(socket)
	defer conn.Close()

	r.hub.AddObserver(conn)
	defer r.hub.RemoveObserver(conn)

	r.sendInitialState(c.Request.Context(), conn)

	for {
		socket.SetReadDeadline(time.Now().Add(observerReceiveTimeout))
		msgType, payload, err := socket.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				// Keep idle dashboards alive.
				if werr := conn.WriteJSON(internal_hub.Event{Type: internal_hub.EventHeartbeat}); werr != nil {
					return
				}
				continue
			}
			return
		}
		if msgType == websocket.TextMessage && isPing(payload) {
			if werr := conn.WriteJSON(gin.H{"type": "pong"}); werr != nil {
				return
			}
		}
	}
}

func (r *realtimeApi) sendInitialState(ctx context.Context, conn *wsConn) {
	var recent []*internal_entity.Transcription
	err := r.db.DB(ctx).
		Order("timestamp DESC").
		Limit(initialStateLimit).
		Find(&recent).Error
	if err != nil {
		r.logger.Warnf("initial-state query failed: %v", err)
		return
	}
	// Oldest first so the dashboard appends in order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	if err := conn.WriteJSON(internal_hub.Event{
		Type: internal_hub.EventInitialState,
		Data: gin.H{"transcriptions": recent},
	}); err != nil {
		r.logger.Debugf("initial-state send failed: %v", err)
	}
}

// NodeSocket serves a microphone node's control channel. Inbound binary
// frames are the legacy PCM streaming path: gated by level and privacy
// state, cut into utterances, transcribed inline and fanned out.
func (r *realtimeApi) NodeSocket(c *gin.Context) {
	nodeId := c.Param("id")
	if _, err := r.registry.Get(c.Request.Context(), nodeId); err != nil {
		if errors.Is(err, internal_registry.ErrNodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "node lookup failed"})
		}
		return
	}

	socket, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warnf("node %s upgrade failed: %v", nodeId, err)
		return
	}
	conn := newWsConn(socket)
	defer conn.Close()

	if err := r.registry.Touch(context.Background(), nodeId, 0, c.ClientIP()); err != nil {
		r.logger.Warnf("could not mark node %s online: %v", nodeId, err)
	}
	r.hub.AddNode(nodeId, conn)
	defer r.hub.RemoveNode(nodeId, conn)
	r.hub.Broadcast(internal_hub.Event{
		Type: internal_hub.EventNodeStatus,
		Data: gin.H{"node_id": nodeId, "status": internal_entity.NodeStatusOnline},
	})

	stream := &utteranceStream{api: r, nodeId: nodeId}
	for {
		msgType, payload, err := socket.ReadMessage()
		if err != nil {
			stream.flush(context.Background())
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			stream.feed(context.Background(), payload)
		case websocket.TextMessage:
			if isPing(payload) {
				if werr := conn.WriteJSON(gin.H{"type": "pong"}); werr != nil {
					return
				}
			}
		}
	}
}

// utteranceStream accumulates streamed PCM into utterances: audio above
// the level threshold opens an utterance, trailing silence closes it.
type utteranceStream struct {
	api    *realtimeApi
	nodeId string

	buf     []byte
	active  bool
	silence int
}

func (s *utteranceStream) feed(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	level := utils.RMS(chunk)
	if level >= speechRMSThreshold {
		s.active = true
		s.silence = 0
		s.buf = append(s.buf, chunk...)
	} else if s.active {
		s.buf = append(s.buf, chunk...)
		s.silence++
		if s.silence >= silenceHangover {
			s.flush(ctx)
		}
	}
	if len(s.buf) >= maxUtteranceBytes {
		s.flush(ctx)
	}
}

func (s *utteranceStream) flush(ctx context.Context) {
	buf := s.buf
	s.buf = nil
	s.active = false
	s.silence = 0
	if len(buf) < minUtteranceBytes {
		return
	}
	s.api.transcribeUtterance(ctx, s.nodeId, buf)
}

func (r *realtimeApi) transcribeUtterance(ctx context.Context, nodeId string, pcm []byte) {
	// Privacy gating happens here, server-side: a muted node's audio is
	// consumed and dropped.
	zone, err := r.zones.Status(ctx, nodeId)
	if err != nil {
		r.logger.Warnf("privacy check for node %s failed: %v", nodeId, err)
		return
	}
	if zone != nil {
		r.logger.Debugf("node %s is muted, dropping %d bytes", nodeId, len(pcm))
		return
	}

	tmp, err := os.CreateTemp("", "homemic-utterance-*.wav")
	if err != nil {
		r.logger.Errorf("could not stage utterance: %v", err)
		return
	}
	defer os.Remove(tmp.Name())
	wav, err := utils.CreateWAVFile(pcm, utils.AudioSampleRate, utils.AudioChannels)
	if err != nil {
		tmp.Close()
		r.logger.Errorf("could not stage utterance: %v", err)
		return
	}
	_, werr := tmp.Write(wav)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		r.logger.Errorf("could not stage utterance: %v", errors.Join(werr, cerr))
		return
	}

	result, err := r.transcriber.TranscribeFile(ctx, tmp.Name())
	if err != nil {
		r.logger.Errorf("streaming transcription for node %s failed: %v", nodeId, err)
		return
	}
	if result.Text == "" {
		return
	}

	duration := float64(len(pcm)) / float64(utils.AudioSampleRate*utils.AudioBytesPerSample)
	row := &internal_entity.Transcription{
		NodeId:        &nodeId,
		Text:          result.Text,
		Confidence:    internal_transcribe.DefaultConfidence,
		AudioDuration: duration,
	}
	if len(result.Segments) > 0 {
		row.Confidence = result.Segments[0].Confidence
	}
	if err := r.db.DB(ctx).Create(row).Error; err != nil {
		r.logger.Errorf("could not persist transcription for node %s: %v", nodeId, err)
		return
	}

	r.hub.Broadcast(internal_hub.Event{
		Type: internal_hub.EventTranscription,
		Data: row,
	})
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isPing(payload []byte) bool {
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return false
	}
	return frame.Type == "ping"
}
