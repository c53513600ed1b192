// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/homemicai/pkg/commons"
)

const identityFile = "identity.json"

// identity is the node's persisted registration. Losing this file makes
// the agent register as a brand new node.
type identity struct {
	NodeId       string `json:"node_id"`
	ServerURL    string `json:"server_url"`
	NodeName     string `json:"node_name"`
	NodeLocation string `json:"node_location"`
}

// Session owns the node's server-side identity and liveness. It
// registers once, heartbeats on a fixed interval and keeps a cached
// view of the node's privacy state. The server being unreachable is an
// expected condition; nothing here escalates a network error.
type Session struct {
	logger    commons.Logger
	client    *resty.Client
	serverURL string
	name      string
	location  string
	dataDir   string
	interval  time.Duration

	mu     sync.RWMutex
	nodeId string
	muted  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

type Option func(*Session)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Session) { s.interval = d }
}

// NewSession builds the session. dataDir holds the identity file.
func NewSession(
	logger commons.Logger,
	serverURL string,
	name string,
	location string,
	dataDir string,
	opts ...Option,
) *Session {
	s := &Session{
		logger:    logger,
		client:    resty.New().SetTimeout(10 * time.Second),
		serverURL: serverURL,
		name:      name,
		location:  location,
		dataDir:   dataDir,
		interval:  30 * time.Second,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NodeId returns the current registered id, empty before registration.
func (s *Session) NodeId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeId
}

// Muted is the cached privacy verdict, refreshed once per heartbeat.
func (s *Session) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

// Register establishes the node's identity: a persisted one for this
// server is reused, otherwise the node registers fresh and stores the
// result.
func (s *Session) Register(ctx context.Context) error {
	if saved, err := s.loadIdentity(); err == nil && saved.ServerURL == s.serverURL && saved.NodeId != "" {
		s.mu.Lock()
		s.nodeId = saved.NodeId
		s.mu.Unlock()
		s.logger.Infof("resuming as node %s", saved.NodeId)
		return nil
	}
	return s.registerFresh(ctx)
}

func (s *Session) registerFresh(ctx context.Context) error {
	var created struct {
		Id string `json:"id"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": s.name, "location": s.location}).
		SetResult(&created).
		Post(s.serverURL + "/api/nodes")
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if resp.IsError() || created.Id == "" {
		return fmt.Errorf("registration rejected: %s", resp.Status())
	}

	s.mu.Lock()
	s.nodeId = created.Id
	s.mu.Unlock()

	if err := s.saveIdentity(identity{
		NodeId:       created.Id,
		ServerURL:    s.serverURL,
		NodeName:     s.name,
		NodeLocation: s.location,
	}); err != nil {
		s.logger.Warnf("could not persist identity: %v", err)
	}
	s.logger.Infof("registered as node %s", created.Id)
	return nil
}

// Start launches the heartbeat loop. Register must have succeeded first.
func (s *Session) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			s.Heartbeat(ctx)
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the heartbeat loop.
func (s *Session) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Heartbeat reports liveness and refreshes the privacy cache. A server
// that no longer knows this node triggers re-registration; every other
// failure is logged and retried next interval.
func (s *Session) Heartbeat(ctx context.Context) {
	nodeId := s.NodeId()
	if nodeId == "" {
		if err := s.Register(ctx); err != nil {
			s.logger.Warnf("registration attempt failed: %v", err)
			return
		}
		nodeId = s.NodeId()
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("latency", fmt.Sprintf("%.1f", s.measureLatency(ctx))).
		SetQueryParam("ip_address", localIP()).
		Post(s.serverURL + "/api/nodes/" + nodeId + "/heartbeat")
	if err != nil {
		s.logger.Warnf("heartbeat failed: %v", err)
		return
	}
	if resp.StatusCode() == 404 {
		// The server lost us (wiped database, deleted node). Start over.
		s.logger.Warnf("node %s unknown to server, re-registering", nodeId)
		s.clearIdentity()
		if err := s.registerFresh(ctx); err != nil {
			s.logger.Warnf("re-registration failed: %v", err)
		}
		return
	}
	if resp.IsError() {
		s.logger.Warnf("heartbeat rejected: %s", resp.Status())
		return
	}

	s.refreshPrivacy(ctx, nodeId)
}

// measureLatency times a cheap round trip, in milliseconds.
func (s *Session) measureLatency(ctx context.Context) float64 {
	started := time.Now()
	if _, err := s.client.R().SetContext(ctx).Get(s.serverURL + "/healthz"); err != nil {
		return 0
	}
	return float64(time.Since(started).Microseconds()) / 1000
}

func (s *Session) refreshPrivacy(ctx context.Context, nodeId string) {
	var status struct {
		Muted bool `json:"muted"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get(s.serverURL + "/api/privacy/status/" + nodeId)
	if err != nil || resp.IsError() {
		// Keep the previous verdict rather than flapping on a glitch.
		return
	}
	s.mu.Lock()
	s.muted = status.Muted
	s.mu.Unlock()
}

func (s *Session) identityPath() string {
	return filepath.Join(s.dataDir, identityFile)
}

func (s *Session) loadIdentity() (identity, error) {
	var saved identity
	raw, err := os.ReadFile(s.identityPath())
	if err != nil {
		return saved, err
	}
	if err := json.Unmarshal(raw, &saved); err != nil {
		return saved, err
	}
	return saved, nil
}

func (s *Session) saveIdentity(saved identity) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.identityPath(), raw, 0o644)
}

func (s *Session) clearIdentity() {
	s.mu.Lock()
	s.nodeId = ""
	s.mu.Unlock()
	if err := os.Remove(s.identityPath()); err != nil && !os.IsNotExist(err) {
		s.logger.Warnf("could not clear identity: %v", err)
	}
}

// localIP finds the address the server would see, without sending
// anything.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
