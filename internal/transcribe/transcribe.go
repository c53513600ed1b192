// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcribe

import (
	"context"
	"fmt"
)

// DefaultConfidence is used when a backend supplies no per-segment
// confidence.
const DefaultConfidence = 0.8

// Segment is a timestamped span of transcribed speech within a clip.
type Segment struct {
	Start      float64 // seconds from clip start
	End        float64
	Text       string
	Confidence float64 // [0,1]
}

// Result is the outcome of transcribing one clip.
type Result struct {
	Text     string
	Segments []Segment
}

// Transcriber is the opaque speech-to-text capability. Implementations
// must be safe for concurrent use; the ingest pool calls them from
// multiple workers.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path string) (Result, error)
}

// Embedder is the opaque speaker-embedding capability. Speaker
// identification runs outside the coordination core; this seam is where
// it plugs in.
type Embedder interface {
	Embed(ctx context.Context, wav []byte) ([]float32, error)
}

type noopTranscriber struct{}

// NewNoopTranscriber returns a Transcriber that fails every request.
// Useful for deployments that ingest clips now and resubmit for
// transcription once a real backend is configured.
func NewNoopTranscriber() Transcriber {
	return noopTranscriber{}
}

func (noopTranscriber) TranscribeFile(ctx context.Context, path string) (Result, error) {
	return Result{}, fmt.Errorf("no transcription backend configured")
}
