// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	internal_entity "github.com/homemicai/internal/entity"
	internal_transcribe "github.com/homemicai/internal/transcribe"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
	"github.com/homemicai/pkg/utils"
)

// Upload validation errors; the HTTP layer maps these to status codes.
var (
	ErrUnknownNode     = errors.New("node not found")
	ErrUnsupportedFile = errors.New("only WAV files are supported")
	ErrFileTooLarge    = errors.New("file exceeds the upload size ceiling")
	ErrClipNotFound    = errors.New("clip not found")
)

// Coordinator accepts uploaded clips and schedules their transcription.
// AcceptUpload returns as soon as the file is durable and the pending
// record exists; transcription runs on a bounded worker pool so slow
// inference never stalls the uploading node's HTTP request.
type Coordinator struct {
	logger      commons.Logger
	db          connectors.DatabaseConnector
	transcriber internal_transcribe.Transcriber

	storageDir  string
	maxFileSize int64

	sem     *semaphore.Weighted
	jobs    sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc

	// onAccepted fires once per newly stored clip; replays do not count.
	onAccepted func(clip *internal_entity.BatchClip)
	// onTranscribed fires after a clip reaches a terminal transcribed
	// state, with segments loaded. Used for dashboard broadcast.
	onTranscribed func(clip *internal_entity.BatchClip)
	// onOutcome reports each finished job ("transcribed" or "failed").
	onOutcome func(outcome string)
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

type Option func(*Coordinator)

// WithAcceptedFunc registers the new-upload hook.
func WithAcceptedFunc(fn func(clip *internal_entity.BatchClip)) Option {
	return func(c *Coordinator) { c.onAccepted = fn }
}

// WithTranscribedFunc registers the completion hook.
func WithTranscribedFunc(fn func(clip *internal_entity.BatchClip)) Option {
	return func(c *Coordinator) { c.onTranscribed = fn }
}

// WithOutcomeFunc registers the per-job outcome hook.
func WithOutcomeFunc(fn func(outcome string)) Option {
	return func(c *Coordinator) { c.onOutcome = fn }
}

// NewCoordinator builds the ingest coordinator. workers bounds how many
// transcription jobs run concurrently.
func NewCoordinator(
	logger commons.Logger,
	db connectors.DatabaseConnector,
	transcriber internal_transcribe.Transcriber,
	storageDir string,
	maxFileSize int64,
	workers int,
	opts ...Option,
) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:      logger,
		db:          db,
		transcriber: transcriber,
		storageDir:  storageDir,
		maxFileSize: maxFileSize,
		sem:         semaphore.NewWeighted(int64(workers)),
		baseCtx:     ctx,
		cancel:      cancel,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stop cancels job scheduling and waits for in-flight jobs to reach
// their terminal state.
func (c *Coordinator) Stop() {
	c.cancel()
	c.jobs.Wait()
}

// AcceptUpload validates and persists an uploaded clip, creates its
// pending record and schedules deferred transcription. declaredRecordTime
// is the client-supplied capture time (RFC3339), parsed best-effort with
// server receive time as the fallback.
//
// Re-uploads of the same (node, filename, recorded_at) — a node retrying
// after a crash between server ack and its local marker write — resolve
// to the existing record without a new file or job.
func (c *Coordinator) AcceptUpload(ctx context.Context, nodeId, filename string, file io.Reader, declaredRecordTime string) (*internal_entity.BatchClip, error) {
	var node internal_entity.Node
	if err := c.db.DB(ctx).First(&node, "id = ?", nodeId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownNode
		}
		return nil, err
	}

	filename = filepath.Base(filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".wav") {
		return nil, ErrUnsupportedFile
	}

	recordedAt := c.parseRecordTime(declaredRecordTime)

	// Idempotency: an existing row for this upload key wins.
	var existing internal_entity.BatchClip
	err := c.db.DB(ctx).
		Where("node_id = ? AND filename = ? AND recorded_at = ?", nodeId, filename, recordedAt).
		First(&existing).Error
	if err == nil {
		c.logger.Infof("duplicate upload of %s from node %s, returning clip %s", filename, nodeId, existing.Id)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Node- and date-partitioned storage path.
	clipDir := filepath.Join(c.storageDir, nodeId, recordedAt.Format("2006-01-02"))
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	filePath := filepath.Join(clipDir, filename)

	size, err := c.writeClipFile(filePath, file)
	if err != nil {
		return nil, err
	}

	duration, err := utils.WavDuration(filePath)
	if err != nil {
		c.logger.Warnf("could not read WAV duration of %s: %v", filePath, err)
		duration = 0
	}

	clip := &internal_entity.BatchClip{
		NodeId:          nodeId,
		Filename:        filename,
		FilePath:        filePath,
		FileSize:        size,
		DurationSeconds: duration,
		RecordedAt:      recordedAt,
		Status:          internal_entity.ClipStatusPending,
	}
	if err := c.db.DB(ctx).Create(clip).Error; err != nil {
		// Roll the file back rather than leaving an orphan on disk.
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to record clip %s: %w", filename, err)
	}

	c.logger.Infof("accepted clip %s from node %s (%.1fs, %d bytes)", filename, nodeId, duration, size)
	if c.onAccepted != nil {
		c.onAccepted(clip)
	}
	c.schedule(clip.Id)
	return clip, nil
}

func (c *Coordinator) writeClipFile(filePath string, file io.Reader) (int64, error) {
	out, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create clip file: %w", err)
	}

	// Copy at most one byte over the ceiling so oversize is detectable
	// without buffering the payload.
	size, err := io.Copy(out, io.LimitReader(file, c.maxFileSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to store clip: %w", err)
	}
	if size > c.maxFileSize {
		os.Remove(filePath)
		return 0, ErrFileTooLarge
	}
	return size, nil
}

func (c *Coordinator) parseRecordTime(declared string) time.Time {
	if declared != "" {
		if ts, err := time.Parse(time.RFC3339, declared); err == nil {
			return ts.UTC()
		}
		// Nodes send bare local timestamps without an offset.
		if ts, err := time.Parse("2006-01-02T15:04:05", declared); err == nil {
			return ts.UTC()
		}
		c.logger.Warnf("unparseable recorded_at %q, using receive time", declared)
	}
	return c.clock().UTC()
}

// schedule queues the deferred transcription job. The semaphore bounds
// concurrent jobs; acquisition happens off the request path so the
// uploader's response is never delayed by a busy pool.
func (c *Coordinator) schedule(clipId string) {
	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		if err := c.sem.Acquire(c.baseCtx, 1); err != nil {
			c.logger.Warnf("transcription of clip %s not started: %v", clipId, err)
			return
		}
		defer c.sem.Release(1)
		c.process(clipId)
	}()
}

// process runs one transcription job end to end. Each job owns its own
// database handle. Whatever happens — error or panic — the clip leaves
// processing for a terminal state; it can never stay silently stuck.
func (c *Coordinator) process(clipId string) {
	ctx := context.Background()
	db := c.db.DB(ctx)

	var clip internal_entity.BatchClip
	if err := db.First(&clip, "id = ?", clipId).Error; err != nil {
		c.logger.Errorf("clip %s vanished before processing: %v", clipId, err)
		return
	}
	if clip.Status != internal_entity.ClipStatusPending {
		c.logger.Warnf("clip %s is %s, skipping", clipId, clip.Status)
		return
	}

	if err := db.Model(&clip).Update("status", internal_entity.ClipStatusProcessing).Error; err != nil {
		c.logger.Errorf("could not mark clip %s processing: %v", clipId, err)
		return
	}

	started := c.clock()
	var jobErr error
	defer func() {
		if r := recover(); r != nil {
			jobErr = fmt.Errorf("transcription panicked: %v", r)
		}
		if jobErr != nil {
			c.markFailed(&clip, jobErr)
		}
	}()

	jobErr = c.transcribeClip(ctx, &clip, started)
}

func (c *Coordinator) transcribeClip(ctx context.Context, clip *internal_entity.BatchClip, started time.Time) error {
	result, err := c.transcriber.TranscribeFile(ctx, clip.FilePath)
	if err != nil {
		return err
	}

	segments := normalizeSegments(result.Segments)
	now := c.clock().UTC()
	processingMs := c.clock().Sub(started).Milliseconds()

	err = c.db.DB(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seg := range segments {
			row := &internal_entity.TranscriptSegment{
				ClipId:     clip.Id,
				StartTime:  seg.Start,
				EndTime:    seg.End,
				Text:       seg.Text,
				Confidence: seg.Confidence,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return tx.Model(clip).Updates(map[string]interface{}{
			"status":                 internal_entity.ClipStatusTranscribed,
			"transcript_text":        result.Text,
			"word_count":             len(strings.Fields(result.Text)),
			"processed_at":           now,
			"processing_duration_ms": processingMs,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to persist transcription: %w", err)
	}

	c.logger.Infof("clip %s transcribed in %dms: %d words, %d segments",
		clip.Id, processingMs, len(strings.Fields(result.Text)), len(segments))
	c.report(internal_entity.ClipStatusTranscribed)

	if c.onTranscribed != nil {
		var full internal_entity.BatchClip
		if err := c.db.DB(ctx).Preload("Segments").First(&full, "id = ?", clip.Id).Error; err == nil {
			c.onTranscribed(&full)
		}
	}
	return nil
}

func (c *Coordinator) markFailed(clip *internal_entity.BatchClip, jobErr error) {
	now := c.clock().UTC()
	if err := c.db.DB(context.Background()).Model(clip).Updates(map[string]interface{}{
		"status":        internal_entity.ClipStatusFailed,
		"error_message": jobErr.Error(),
		"processed_at":  now,
	}).Error; err != nil {
		c.logger.Errorf("could not mark clip %s failed: %v", clip.Id, err)
		return
	}
	c.logger.Errorf("transcription of clip %s failed: %v", clip.Id, jobErr)
	c.report(internal_entity.ClipStatusFailed)
}

func (c *Coordinator) report(outcome string) {
	if c.onOutcome != nil {
		c.onOutcome(outcome)
	}
}

// normalizeSegments sorts by start time and clamps any overlap so the
// stored segments are monotonically increasing and disjoint. Confidence
// is clamped to [0,1] with the documented default when absent.
func normalizeSegments(in []internal_transcribe.Segment) []internal_transcribe.Segment {
	out := make([]internal_transcribe.Segment, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	for i := range out {
		if i > 0 && out[i].Start < out[i-1].End {
			out[i].Start = out[i-1].End
		}
		if out[i].End < out[i].Start {
			out[i].End = out[i].Start
		}
		switch {
		case out[i].Confidence <= 0:
			out[i].Confidence = internal_transcribe.DefaultConfidence
		case out[i].Confidence > 1:
			out[i].Confidence = 1
		}
	}
	return out
}
