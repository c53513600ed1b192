// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcribe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/utils"
)

type openAIBackend struct {
	client openai.Client
	logger commons.Logger
}

// NewOpenAITranscriber transcribes clips through the OpenAI audio API.
// The hosted endpoint returns whole-clip text without timings, so the
// result carries a single segment spanning the clip.
func NewOpenAITranscriber(apiKey string, logger commons.Logger) Transcriber {
	return &openAIBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

func (o *openAIBackend) TranscribeFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open clip %s: %w", path, err)
	}
	defer f.Close()

	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  f,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription failed for %s: %w", path, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Result{}, nil
	}

	end, err := utils.WavDuration(path)
	if err != nil {
		o.logger.Warnf("could not read clip duration for %s: %v", path, err)
		end = 0
	}

	return Result{
		Text: text,
		Segments: []Segment{{
			Start:      0,
			End:        end,
			Text:       text,
			Confidence: DefaultConfidence,
		}},
	}, nil
}
