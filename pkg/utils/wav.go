// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	WavHeaderSize       = 44
	AudioSampleRate     = 16000 // capture format across nodes and server
	AudioChannels       = 1
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
)

// WavHeader writes a canonical 44-byte PCM WAV header for a payload of
// dataLen bytes.
func WavHeader(w io.Writer, sampleRate, channels, dataLen int) error {
	bps := sampleRate * channels * AudioBytesPerSample

	var buf bytes.Buffer
	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample*channels))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))

	_, err := w.Write(buf.Bytes())
	return err
}

// CreateWAVFile renders PCM bytes into an in-memory WAV file.
func CreateWAVFile(pcmData []byte, sampleRate, channels int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WavHeader(&buf, sampleRate, channels, len(pcmData)); err != nil {
		return nil, err
	}
	buf.Write(pcmData)
	return buf.Bytes(), nil
}

// WavDuration reads the fmt and data chunks of a WAV file and returns its
// duration in seconds. Returns 0 with an error for malformed files.
func WavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, WavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("short wav header in %s: %w", path, err)
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WAVE")) {
		return 0, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	channels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	dataLen := binary.LittleEndian.Uint32(header[40:44])
	if sampleRate == 0 || channels == 0 {
		return 0, fmt.Errorf("%s has zeroed wav format fields", path)
	}

	bps := float64(sampleRate) * float64(channels) * AudioBytesPerSample
	return float64(dataLen) / bps, nil
}

// RMS computes the root-mean-square level of little-endian 16-bit PCM.
// The result is in the raw sample domain (0..32768), matching what the
// audio-level endpoint expects.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
