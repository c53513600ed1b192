package utils

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateWAVFileHeader(t *testing.T) {
	pcm := make([]byte, 32000) // one second at 16kHz mono
	wav, err := CreateWAVFile(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("CreateWAVFile: %v", err)
	}
	if len(wav) != WavHeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", WavHeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: expected 16000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data length: expected %d, got %d", len(pcm), got)
	}
}

func TestWavDurationRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
	}{
		{"one second", 1.0},
		{"ten seconds", 10.0},
		{"half second", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, int(tt.seconds*16000)*2)
			wav, err := CreateWAVFile(pcm, 16000, 1)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(t.TempDir(), "clip.wav")
			if err := os.WriteFile(path, wav, 0o644); err != nil {
				t.Fatal(err)
			}
			d, err := WavDuration(path)
			if err != nil {
				t.Fatalf("WavDuration: %v", err)
			}
			if math.Abs(d-tt.seconds) > 0.001 {
				t.Errorf("expected %.3fs, got %.3fs", tt.seconds, d)
			}
		})
	}
}

func TestWavDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not a wav file at all, definitely not 44 bytes of header"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := WavDuration(path); err == nil {
		t.Error("expected error for non-WAV payload")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("empty RMS: expected 0, got %f", got)
	}

	// Constant amplitude signal: RMS equals the amplitude.
	pcm := make([]byte, 2000)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(1000)))
	}
	if got := RMS(pcm); math.Abs(got-1000) > 0.01 {
		t.Errorf("expected RMS 1000, got %f", got)
	}
}

func TestClipFilenameRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)
	name := ClipFilename(start)
	if name != "clip_20260314_092653.wav" {
		t.Fatalf("unexpected filename %q", name)
	}
	got, err := ParseClipTime(name)
	if err != nil {
		t.Fatalf("ParseClipTime: %v", err)
	}
	if !got.Equal(start) {
		t.Errorf("expected %v, got %v", start, got)
	}
}

func TestClipFilenamesSortChronologically(t *testing.T) {
	a := ClipFilename(time.Date(2026, 1, 2, 23, 59, 59, 0, time.Local))
	b := ClipFilename(time.Date(2026, 1, 3, 0, 0, 0, 0, time.Local))
	if !(a < b) {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestParseClipTimeRejectsForeignNames(t *testing.T) {
	for _, name := range []string{"audio.wav", "clip_.wav", "clip_2026.wav", "clip_20261301_000000.wav"} {
		if _, err := ParseClipTime(name); err == nil {
			t.Errorf("expected error for %q", name)
		}
	}
}

func TestMarkerPath(t *testing.T) {
	if got := MarkerPath("/data/clip_20260101_000000.wav", RecordingMarker); got != "/data/clip_20260101_000000.recording" {
		t.Errorf("unexpected marker path %q", got)
	}
	if got := MarkerPath("/data/clip_20260101_000000.wav", UploadedMarkerExt); got != "/data/clip_20260101_000000.uploaded" {
		t.Errorf("unexpected marker path %q", got)
	}
}
