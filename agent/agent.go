// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	agent_config "github.com/homemicai/agent/config"
	internal_capture "github.com/homemicai/agent/internal/capture"
	internal_session "github.com/homemicai/agent/internal/session"
	internal_source "github.com/homemicai/agent/internal/source"
	internal_uploader "github.com/homemicai/agent/internal/uploader"
	"github.com/homemicai/pkg/commons"
)

// registerRetryDelay paces registration attempts while the server is
// unreachable; the agent records regardless and uploads catch up later.
const registerRetryDelay = 10 * time.Second

// Agent ties the three node loops together: capture cuts clips, the
// uploader drains them, the session keeps the server's view of this
// node alive. The loops are independent — a dead server stops neither
// recording nor the eventual catch-up.
type Agent struct {
	cfg    *agent_config.AgentConfig
	logger commons.Logger
	client *resty.Client

	session  *internal_session.Session
	recorder *internal_capture.Recorder
	uploader *internal_uploader.Uploader
}

// New assembles the agent from its configuration.
func New(cfg *agent_config.AgentConfig, logger commons.Logger) *Agent {
	a := &Agent{
		cfg:    cfg,
		logger: logger,
		client: resty.New().SetTimeout(time.Second),
	}

	a.session = internal_session.NewSession(
		logger, cfg.ServerURL, cfg.NodeName, cfg.NodeLocation, cfg.DataDir,
		internal_session.WithHeartbeatInterval(cfg.HeartbeatInterval),
	)

	source := internal_source.NewArecordSource(cfg.AudioDevice, logger)
	a.recorder = internal_capture.NewRecorder(
		logger, source, cfg.AudioStorageDir,
		time.Duration(cfg.ClipSeconds)*time.Second,
		internal_capture.WithLevelFunc(a.reportLevel),
		internal_capture.WithClipFunc(func(path string) {
			logger.Debugf("clip ready for upload: %s", path)
		}),
	)

	a.uploader = internal_uploader.NewUploader(
		logger, cfg.ServerURL, cfg.AudioStorageDir, a.session.NodeId,
		internal_uploader.WithPollInterval(cfg.PollInterval),
		internal_uploader.WithRetries(cfg.UploadRetries, cfg.RetryDelay),
		internal_uploader.WithKeepDays(cfg.KeepDays),
	)
	return a
}

// Run starts all loops and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	// Registration blocks startup only until the first success; the
	// server being down delays identity, not capture.
	for {
		if err := a.session.Register(ctx); err == nil {
			break
		} else {
			a.logger.Warnf("cannot reach server yet: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerRetryDelay):
		}
	}

	if err := a.recorder.Start(ctx); err != nil {
		return fmt.Errorf("capture failed to start: %w", err)
	}
	a.session.Start(ctx)
	a.uploader.Start(ctx)
	a.logger.Infof("node %s capturing %ds clips to %s", a.session.NodeId(), a.cfg.ClipSeconds, a.cfg.AudioStorageDir)

	<-ctx.Done()
	return a.shutdown()
}

func (a *Agent) shutdown() error {
	a.logger.Info("shutting down")
	var firstErr error
	if err := a.recorder.Stop(); err != nil {
		a.logger.Errorf("recorder stop: %v", err)
		firstErr = err
	}
	if err := a.uploader.Stop(); err != nil {
		a.logger.Errorf("uploader stop: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	a.session.Stop()
	return firstErr
}

// reportLevel pushes the ~1 Hz capture level to the server as raw
// 16-bit RMS; the server owns the 0..100 normalization. A muted node
// reports zero: the report still counts as liveness, but room activity
// stays invisible. The post runs off the capture goroutine with a short
// timeout so a slow server never stalls recording; failures are
// invisible, the next level replaces this one anyway.
func (a *Agent) reportLevel(rms float64) {
	nodeId := a.session.NodeId()
	if nodeId == "" {
		return
	}
	if a.session.Muted() {
		rms = 0
	}
	go func() {
		_, err := a.client.R().
			SetQueryParam("level", fmt.Sprintf("%.1f", rms)).
			Post(a.cfg.ServerURL + "/api/nodes/" + nodeId + "/audio-level")
		if err != nil {
			a.logger.Debugf("level report failed: %v", err)
		}
	}()
}
