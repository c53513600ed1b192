// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/homemicai/pkg/commons"
)

type whisperCppBackend struct {
	bin    string
	model  string
	logger commons.Logger
}

// NewWhisperCppTranscriber runs the whisper.cpp CLI against clip files.
// All inference stays on the local box; no audio leaves the machine.
func NewWhisperCppTranscriber(bin, model string, logger commons.Logger) Transcriber {
	return &whisperCppBackend{bin: bin, model: model, logger: logger}
}

// whisperOutput matches the -oj output file of whisper-cli.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *whisperCppBackend) TranscribeFile(ctx context.Context, path string) (Result, error) {
	// Per-call output base: concurrent workers must not clobber each
	// other's result files.
	outBase := filepath.Join(os.TempDir(), "homemic-whisper-"+uuid.New().String())
	defer os.Remove(outBase + ".json")

	cmd := exec.CommandContext(ctx, w.bin,
		"-m", w.model,
		"-f", path,
		"-l", "en",
		"-oj",
		"-of", outBase,
		"-np",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Result{}, fmt.Errorf("whisper-cli failed for %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return Result{}, fmt.Errorf("whisper-cli produced no output for %s: %w", path, err)
	}

	result, err := parseWhisperOutput(raw)
	if err != nil {
		return Result{}, err
	}
	w.logger.Debugf("whisper-cli transcribed %s: %d segments", path, len(result.Segments))
	return result, nil
}

func parseWhisperOutput(raw []byte) (Result, error) {
	var parsed whisperOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("unparseable whisper output: %w", err)
	}

	var result Result
	var parts []string
	for _, seg := range parsed.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		result.Segments = append(result.Segments, Segment{
			Start:      float64(seg.Offsets.From) / 1000.0,
			End:        float64(seg.Offsets.To) / 1000.0,
			Text:       text,
			Confidence: DefaultConfidence,
		})
	}
	result.Text = strings.Join(parts, " ")
	return result, nil
}
