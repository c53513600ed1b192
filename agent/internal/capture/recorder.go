// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	internal_source "github.com/homemicai/agent/internal/source"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/utils"
)

const (
	// chunkDuration is the read granularity from the source.
	chunkDuration = 100 * time.Millisecond
	// levelInterval is how much audio feeds one level callback.
	levelInterval = time.Second
	// maxReadRetries bounds consecutive transient read failures before
	// the recorder gives up on the source.
	maxReadRetries = 50
	readRetryDelay = 100 * time.Millisecond
	// stopTimeout bounds how long Stop waits for the capture loop.
	stopTimeout = 5 * time.Second
)

// Recorder captures continuously and cuts the stream into fixed-length
// WAV clips. A clip carries its .recording marker for exactly as long as
// it is being written: the marker exists before the first byte and is
// gone before the next clip opens, so a crash at any instant leaves an
// unambiguous picture of which files are final.
type Recorder struct {
	logger commons.Logger
	source internal_source.Source
	dir    string
	target time.Duration

	onLevel func(rms float64)
	onClip  func(path string)
	clock   func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	runErr error
}

type Option func(*Recorder)

// WithLevelFunc registers the ~1 Hz capture level callback.
func WithLevelFunc(fn func(rms float64)) Option {
	return func(r *Recorder) { r.onLevel = fn }
}

// WithClipFunc registers the clip-complete callback.
func WithClipFunc(fn func(path string)) Option {
	return func(r *Recorder) { r.onClip = fn }
}

// NewRecorder builds a recorder writing clips of the target duration
// into dir.
func NewRecorder(
	logger commons.Logger,
	source internal_source.Source,
	dir string,
	target time.Duration,
	opts ...Option,
) *Recorder {
	r := &Recorder{
		logger: logger,
		source: source,
		dir:    dir,
		target: target,
		clock:  time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the source and launches the capture loop. A source that
// cannot open is fatal to the caller.
func (r *Recorder) Start(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create clip directory: %w", err)
	}
	if err := r.source.Open(); err != nil {
		return fmt.Errorf("failed to open audio source: %w", err)
	}
	go r.run(ctx)
	return nil
}

// Stop ends capture, finalizes the in-flight clip and releases the
// source. It returns once the loop has joined or the bounded wait
// expires.
func (r *Recorder) Stop() error {
	close(r.stopCh)
	// Unblock a pending Read.
	r.source.Close()
	select {
	case <-r.doneCh:
		return r.runErr
	case <-time.After(stopTimeout):
		return fmt.Errorf("capture loop did not stop within %s", stopTimeout)
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.doneCh)
	defer r.source.Close()

	chunkBytes := int(chunkDuration.Seconds() * utils.AudioSampleRate * utils.AudioBytesPerSample)
	targetBytes := int(r.target.Seconds() * utils.AudioSampleRate * utils.AudioBytesPerSample)
	levelBytes := int(levelInterval.Seconds() * utils.AudioSampleRate * utils.AudioBytesPerSample)
	chunk := make([]byte, chunkBytes)

	var lastClipTime time.Time
	for {
		if r.stopped(ctx) {
			return
		}

		start := r.clock()
		// Clip names have second resolution; never reuse one.
		if !start.After(lastClipTime) {
			start = lastClipTime.Add(time.Second)
		}
		lastClipTime = start

		clip, err := r.openClip(start)
		if err != nil {
			r.runErr = err
			r.logger.Errorf("cannot open clip: %v", err)
			return
		}

		written := 0
		levelAccum := make([]byte, 0, levelBytes)
		retries := 0
		eof := false
		for written < targetBytes {
			if r.stopped(ctx) {
				eof = true
				break
			}
			n, err := r.source.Read(chunk)
			if n > 0 {
				retries = 0
				if _, werr := clip.file.Write(chunk[:n]); werr != nil {
					r.runErr = fmt.Errorf("failed to write clip: %w", werr)
					r.finalizeClip(clip, written)
					return
				}
				written += n

				levelAccum = append(levelAccum, chunk[:n]...)
				if len(levelAccum) >= levelBytes {
					if r.onLevel != nil {
						r.onLevel(utils.RMS(levelAccum))
					}
					levelAccum = levelAccum[:0]
				}
			}
			if err != nil {
				if err == io.EOF || r.stopped(ctx) {
					eof = true
					break
				}
				retries++
				if retries > maxReadRetries {
					r.runErr = fmt.Errorf("audio source failed: %w", err)
					r.finalizeClip(clip, written)
					return
				}
				r.logger.Warnf("transient read error (attempt %d): %v", retries, err)
				time.Sleep(readRetryDelay)
			}
		}

		r.finalizeClip(clip, written)
		if eof {
			return
		}
	}
}

func (r *Recorder) stopped(ctx context.Context) bool {
	select {
	case <-r.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

type openClip struct {
	path       string
	markerPath string
	file       *os.File
}

// openClip stakes the .recording marker, then opens the WAV with a
// placeholder header. The marker always exists before any clip bytes do.
func (r *Recorder) openClip(start time.Time) (*openClip, error) {
	name := utils.ClipFilename(start)
	path := filepath.Join(r.dir, name)
	markerPath := utils.MarkerPath(path, utils.RecordingMarker)

	if err := os.WriteFile(markerPath, nil, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stake recording marker: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		os.Remove(markerPath)
		return nil, fmt.Errorf("failed to create clip file: %w", err)
	}
	if err := utils.WavHeader(file, utils.AudioSampleRate, utils.AudioChannels, 0); err != nil {
		file.Close()
		os.Remove(path)
		os.Remove(markerPath)
		return nil, err
	}
	r.logger.Debugf("recording %s", name)
	return &openClip{path: path, markerPath: markerPath, file: file}, nil
}

// finalizeClip patches the real payload size into the header, closes the
// file and clears the marker. Empty clips are discarded entirely.
func (r *Recorder) finalizeClip(clip *openClip, written int) {
	if written == 0 {
		clip.file.Close()
		os.Remove(clip.path)
		os.Remove(clip.markerPath)
		return
	}

	if _, err := clip.file.Seek(0, io.SeekStart); err == nil {
		if err := utils.WavHeader(clip.file, utils.AudioSampleRate, utils.AudioChannels, written); err != nil {
			r.logger.Errorf("failed to patch header of %s: %v", clip.path, err)
		}
	}
	if err := clip.file.Close(); err != nil {
		r.logger.Errorf("failed to close %s: %v", clip.path, err)
	}
	if err := os.Remove(clip.markerPath); err != nil {
		r.logger.Errorf("failed to clear marker of %s: %v", clip.path, err)
	}

	seconds := float64(written) / float64(utils.AudioSampleRate*utils.AudioBytesPerSample)
	r.logger.Infof("completed %s (%.1fs)", filepath.Base(clip.path), seconds)
	if r.onClip != nil {
		r.onClip(clip.path)
	}
}
