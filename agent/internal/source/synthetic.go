package internal_source

import (
	"encoding/binary"
	"io"
	"sync/atomic"
)

// syntheticSource yields an endless constant-amplitude tone. It exists
// for tests and for soak runs on machines without a microphone; reads
// are not paced to real time.
type syntheticSource struct {
	amplitude int16
	closed    atomic.Bool
}

// NewSyntheticSource builds a mic-less source producing samples of the
// given amplitude.
func NewSyntheticSource(amplitude int16) Source {
	return &syntheticSource{amplitude: amplitude}
}

func (s *syntheticSource) Open() error { return nil }

func (s *syntheticSource) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}
	for i := 0; i+1 < len(p); i += 2 {
		binary.LittleEndian.PutUint16(p[i:], uint16(s.amplitude))
	}
	return len(p) / 2 * 2, nil
}

func (s *syntheticSource) Close() error {
	s.closed.Store(true)
	return nil
}
