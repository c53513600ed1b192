package utils

import (
	"fmt"
	"strings"
	"time"
)

const (
	ClipPrefix        = "clip_"
	ClipTimeLayout    = "20060102_150405"
	ClipExt           = ".wav"
	RecordingMarker   = ".recording"
	UploadedMarkerExt = ".uploaded"
)

// ClipFilename builds the canonical clip name for a capture start time.
// The timestamp pattern sorts chronologically and parses back with
// ParseClipTime.
func ClipFilename(start time.Time) string {
	return ClipPrefix + start.Format(ClipTimeLayout) + ClipExt
}

// ParseClipTime recovers the capture timestamp from a clip filename.
// The filename may carry a path-free name with or without the .wav
// extension.
func ParseClipTime(filename string) (time.Time, error) {
	name := strings.TrimSuffix(filename, ClipExt)
	if !strings.HasPrefix(name, ClipPrefix) {
		return time.Time{}, fmt.Errorf("%q does not match clip naming pattern", filename)
	}
	ts, err := time.ParseInLocation(ClipTimeLayout, strings.TrimPrefix(name, ClipPrefix), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable clip timestamp in %q: %w", filename, err)
	}
	return ts, nil
}

// MarkerPath maps a clip path to one of its sibling marker paths.
func MarkerPath(clipPath, markerExt string) string {
	return strings.TrimSuffix(clipPath, ClipExt) + markerExt
}
