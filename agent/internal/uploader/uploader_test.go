// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/utils"
)

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-uploader"), commons.Level("debug"))
	require.NoError(t, err)
	return logger
}

func writeClip(t *testing.T, dir, name string, markers ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	pcm := make([]byte, utils.AudioSampleRate*utils.AudioBytesPerSample/10)
	wav, err := utils.CreateWAVFile(pcm, utils.AudioSampleRate, utils.AudioChannels)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, wav, 0o644))
	for _, marker := range markers {
		require.NoError(t, os.WriteFile(utils.MarkerPath(path, marker), nil, 0o644))
	}
	return path
}

type uploadRecord struct {
	nodeId     string
	recordedAt string
	filename   string
}

func newUploadServer(t *testing.T, failures int) (*httptest.Server, *[]uploadRecord) {
	t.Helper()
	var mu sync.Mutex
	var records []uploadRecord
	remaining := failures
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if remaining > 0 {
			remaining--
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseMultipartForm(10<<20))
		_, header, err := r.FormFile("audio")
		require.NoError(t, err)
		records = append(records, uploadRecord{
			nodeId:     r.FormValue("node_id"),
			recordedAt: r.FormValue("recorded_at"),
			filename:   header.Filename,
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"processing"}`))
	}))
	t.Cleanup(server.Close)
	return server, &records
}

func newTestUploader(t *testing.T, serverURL, dir string, opts ...Option) *Uploader {
	t.Helper()
	base := []Option{
		WithPollInterval(10 * time.Millisecond),
		WithRetries(3, 10*time.Millisecond),
	}
	return NewUploader(testLogger(t), serverURL, dir, func() string { return "node-1" }, append(base, opts...)...)
}

func TestSweepSkipsMarkedFiles(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "clip_20260314_090000.wav", utils.RecordingMarker)
	writeClip(t, dir, "clip_20260314_091000.wav", utils.UploadedMarkerExt)
	pending := writeClip(t, dir, "clip_20260314_092000.wav")

	server, records := newUploadServer(t, 0)
	u := newTestUploader(t, server.URL, dir)

	assert.Equal(t, 1, u.Pending())
	u.Sweep(context.Background())

	require.Len(t, *records, 1)
	assert.Equal(t, "node-1", (*records)[0].nodeId)
	assert.Equal(t, "clip_20260314_092000.wav", (*records)[0].filename)
	// recorded_at comes from the filename, not the upload moment.
	recordedAt, err := time.Parse(time.RFC3339, (*records)[0].recordedAt)
	require.NoError(t, err)
	want, err := utils.ParseClipTime("clip_20260314_092000.wav")
	require.NoError(t, err)
	assert.True(t, recordedAt.Equal(want))

	assert.FileExists(t, utils.MarkerPath(pending, utils.UploadedMarkerExt))
	assert.Equal(t, 0, u.Pending())
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := writeClip(t, dir, "clip_20260314_093000.wav")

	server, records := newUploadServer(t, 2)
	u := newTestUploader(t, server.URL, dir)

	var uploaded []string
	u.onUploaded = func(p string) { uploaded = append(uploaded, p) }
	u.Sweep(context.Background())

	require.Len(t, *records, 1)
	assert.Equal(t, []string{path}, uploaded)
	assert.FileExists(t, utils.MarkerPath(path, utils.UploadedMarkerExt))
}

func TestExhaustedRetriesLeaveFileEligible(t *testing.T) {
	dir := t.TempDir()
	path := writeClip(t, dir, "clip_20260314_094000.wav")

	server, _ := newUploadServer(t, 100)
	u := newTestUploader(t, server.URL, dir)

	var failed []string
	u.onFailed = func(p string, err error) {
		failed = append(failed, p)
		assert.Error(t, err)
	}
	u.Sweep(context.Background())

	assert.Equal(t, []string{path}, failed)
	assert.NoFileExists(t, utils.MarkerPath(path, utils.UploadedMarkerExt))
	// Still offered on the next cycle.
	assert.Equal(t, 1, u.Pending())
}

func TestCleanupUploadedNeverTouchesUnmarkedFiles(t *testing.T) {
	dir := t.TempDir()
	oldName := utils.ClipFilename(time.Now().AddDate(0, 0, -10))
	oldUploaded := writeClip(t, dir, oldName, utils.UploadedMarkerExt)

	oldUnmarkedName := utils.ClipFilename(time.Now().AddDate(0, 0, -30))
	oldUnmarked := writeClip(t, dir, oldUnmarkedName)

	freshName := utils.ClipFilename(time.Now())
	freshUploaded := writeClip(t, dir, freshName, utils.UploadedMarkerExt)

	server, _ := newUploadServer(t, 0)
	u := newTestUploader(t, server.URL, dir)

	removed := u.CleanupUploaded(3)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldUploaded)
	assert.NoFileExists(t, utils.MarkerPath(oldUploaded, utils.UploadedMarkerExt))
	// Never uploaded: retained forever, whatever its age.
	assert.FileExists(t, oldUnmarked)
	// Uploaded but inside the retention window: retained.
	assert.FileExists(t, freshUploaded)
}

func TestCleanupKeepDaysZeroStillSparesUnmarked(t *testing.T) {
	dir := t.TempDir()
	uploadedName := utils.ClipFilename(time.Now().Add(-time.Minute))
	uploaded := writeClip(t, dir, uploadedName, utils.UploadedMarkerExt)
	pendingName := utils.ClipFilename(time.Now().Add(-2 * time.Minute))
	pending := writeClip(t, dir, pendingName)

	server, _ := newUploadServer(t, 0)
	u := newTestUploader(t, server.URL, dir)

	removed := u.CleanupUploaded(0)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, uploaded)
	assert.FileExists(t, pending)
}

func TestPollLoopUploadsAndStops(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "clip_20260314_095000.wav")

	server, records := newUploadServer(t, 0)
	u := newTestUploader(t, server.URL, dir)

	u.Start(context.Background())
	require.Eventually(t, func() bool { return u.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, u.Stop())
	require.Len(t, *records, 1)
}
