// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/utils"
)

const stopTimeout = 10 * time.Second

// Uploader drains completed clips to the server. Delivery is
// at-least-once: a file only stops being offered once its .uploaded
// marker is durably on disk, and the server deduplicates replays. Files
// still carrying a .recording marker are never touched.
type Uploader struct {
	logger    commons.Logger
	client    *resty.Client
	serverURL string
	dir       string
	nodeId    func() string

	pollInterval time.Duration
	retries      int
	retryDelay   time.Duration
	keepDays     int

	onUploaded func(path string)
	onFailed   func(path string, err error)

	stopCh chan struct{}
	doneCh chan struct{}
}

type Option func(*Uploader)

func WithPollInterval(d time.Duration) Option {
	return func(u *Uploader) { u.pollInterval = d }
}

func WithRetries(n int, delay time.Duration) Option {
	return func(u *Uploader) { u.retries = n; u.retryDelay = delay }
}

func WithKeepDays(days int) Option {
	return func(u *Uploader) { u.keepDays = days }
}

func WithUploadedFunc(fn func(path string)) Option {
	return func(u *Uploader) { u.onUploaded = fn }
}

func WithFailedFunc(fn func(path string, err error)) Option {
	return func(u *Uploader) { u.onFailed = fn }
}

// NewUploader builds the queue. nodeId is a provider rather than a
// value because the session can re-register under a fresh id at any
// time.
func NewUploader(
	logger commons.Logger,
	serverURL string,
	dir string,
	nodeId func() string,
	opts ...Option,
) *Uploader {
	u := &Uploader{
		logger:       logger,
		client:       resty.New().SetTimeout(2 * time.Minute),
		serverURL:    serverURL,
		dir:          dir,
		nodeId:       nodeId,
		pollInterval: 5 * time.Second,
		retries:      3,
		retryDelay:   2 * time.Second,
		keepDays:     3,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start launches the poll loop.
func (u *Uploader) Start(ctx context.Context) {
	go func() {
		defer close(u.doneCh)
		ticker := time.NewTicker(u.pollInterval)
		defer ticker.Stop()
		for {
			u.Sweep(ctx)
			u.CleanupUploaded(u.keepDays)
			select {
			case <-u.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the poll loop, joining with a bounded wait.
func (u *Uploader) Stop() error {
	close(u.stopCh)
	select {
	case <-u.doneCh:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("upload loop did not stop within %s", stopTimeout)
	}
}

// Sweep uploads every eligible clip once, in discovery order.
func (u *Uploader) Sweep(ctx context.Context) {
	for _, path := range u.eligible() {
		select {
		case <-u.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := u.uploadWithRetry(ctx, path); err != nil {
			u.logger.Errorf("upload of %s exhausted retries: %v", filepath.Base(path), err)
			if u.onFailed != nil {
				u.onFailed(path, err)
			}
			// The file stays; the next sweep offers it again.
			continue
		}
		if u.onUploaded != nil {
			u.onUploaded(path)
		}
	}
}

// Pending counts clips waiting for a successful upload.
func (u *Uploader) Pending() int {
	return len(u.eligible())
}

func (u *Uploader) eligible() []string {
	wavs, err := filepath.Glob(filepath.Join(u.dir, utils.ClipPrefix+"*.wav"))
	if err != nil {
		u.logger.Errorf("clip listing failed: %v", err)
		return nil
	}
	sort.Strings(wavs)

	var out []string
	for _, path := range wavs {
		if fileExists(utils.MarkerPath(path, utils.RecordingMarker)) {
			continue
		}
		if fileExists(utils.MarkerPath(path, utils.UploadedMarkerExt)) {
			continue
		}
		out = append(out, path)
	}
	return out
}

func (u *Uploader) uploadWithRetry(ctx context.Context, path string) error {
	var lastErr error
	for attempt := 1; attempt <= u.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-u.stopCh:
				return lastErr
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.retryDelay):
			}
		}
		if err := u.upload(ctx, path); err != nil {
			lastErr = err
			u.logger.Warnf("upload of %s failed (attempt %d/%d): %v", filepath.Base(path), attempt, u.retries, err)
			continue
		}
		return u.markUploaded(path)
	}
	return lastErr
}

func (u *Uploader) upload(ctx context.Context, path string) error {
	filename := filepath.Base(path)
	recordedAt, err := utils.ParseClipTime(filename)
	if err != nil {
		// Not fatal: the server falls back to receive time.
		u.logger.Warnf("clip %s has no parseable timestamp: %v", filename, err)
	}

	req := u.client.R().
		SetContext(ctx).
		SetFile("audio", path).
		SetFormData(map[string]string{"node_id": u.nodeId()})
	if !recordedAt.IsZero() {
		req.SetFormData(map[string]string{"recorded_at": recordedAt.UTC().Format(time.RFC3339)})
	}

	resp, err := req.Post(u.serverURL + "/api/batch/upload")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("server rejected %s: %s", filename, resp.Status())
	}
	u.logger.Infof("uploaded %s", filename)
	return nil
}

// markUploaded stakes the durable done marker. fsync before considering
// the upload settled: losing the marker in a crash only costs a replay,
// but acting on a marker that never hit disk could orphan audio.
func (u *Uploader) markUploaded(path string) error {
	markerPath := utils.MarkerPath(path, utils.UploadedMarkerExt)
	f, err := os.Create(markerPath)
	if err != nil {
		return fmt.Errorf("failed to stake uploaded marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to persist uploaded marker: %w", err)
	}
	return f.Close()
}

// CleanupUploaded reclaims disk from clips the server has confirmed.
// Files without the .uploaded marker are never deleted, whatever their
// age.
func (u *Uploader) CleanupUploaded(keepDays int) int {
	cutoff := time.Now().AddDate(0, 0, -keepDays)

	wavs, err := filepath.Glob(filepath.Join(u.dir, utils.ClipPrefix+"*.wav"))
	if err != nil {
		u.logger.Errorf("clip listing failed: %v", err)
		return 0
	}

	removed := 0
	for _, path := range wavs {
		markerPath := utils.MarkerPath(path, utils.UploadedMarkerExt)
		if !fileExists(markerPath) {
			continue
		}
		clipTime, err := utils.ParseClipTime(filepath.Base(path))
		if err != nil {
			continue
		}
		if !clipTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			u.logger.Warnf("could not remove %s: %v", path, err)
			continue
		}
		os.Remove(markerPath)
		removed++
	}
	if removed > 0 {
		u.logger.Infof("reclaimed %d uploaded clips older than %d days", removed, keepDays)
	}
	return removed
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
