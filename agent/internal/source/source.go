// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_source

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/utils"
)

// Source yields 16 kHz mono 16-bit little-endian PCM. Open must succeed
// before Read; Close is idempotent and releases the capture device.
type Source interface {
	Open() error
	Read(p []byte) (int, error)
	Close() error
}

// arecordSource shells out to ALSA's arecord in raw mode and reads PCM
// from its stdout. Keeping capture in a child process means a wedged
// driver takes down arecord, not the agent.
type arecordSource struct {
	logger commons.Logger
	device string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// NewArecordSource captures from the named ALSA device ("default" for
// the system mic).
func NewArecordSource(device string, logger commons.Logger) Source {
	return &arecordSource{logger: logger, device: device}
}

func (a *arecordSource) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		return nil
	}

	cmd := exec.Command("arecord",
		"-D", a.device,
		"-f", "S16_LE",
		"-r", fmt.Sprintf("%d", utils.AudioSampleRate),
		"-c", fmt.Sprintf("%d", utils.AudioChannels),
		"-t", "raw",
		"-q",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach to arecord: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start arecord on %s: %w", a.device, err)
	}

	a.logger.Infof("capturing from ALSA device %s (pid %d)", a.device, cmd.Process.Pid)
	a.cmd = cmd
	a.stdout = stdout
	return nil
}

func (a *arecordSource) Read(p []byte) (int, error) {
	a.mu.Lock()
	stdout := a.stdout
	a.mu.Unlock()
	if stdout == nil {
		return 0, io.ErrClosedPipe
	}
	return stdout.Read(p)
}

func (a *arecordSource) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd == nil {
		return nil
	}
	a.stdout.Close()
	if a.cmd.Process != nil {
		a.cmd.Process.Kill()
	}
	err := a.cmd.Wait()
	a.cmd = nil
	a.stdout = nil
	// arecord exits non-zero when killed; that is the expected shutdown.
	if err != nil && !strings.Contains(err.Error(), "killed") && !strings.Contains(err.Error(), "signal") {
		return err
	}
	return nil
}

// ListDevices returns arecord's capture device listing for the CLI.
func ListDevices() (string, error) {
	out, err := exec.Command("arecord", "-l").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to list capture devices: %w", err)
	}
	return string(out), nil
}
