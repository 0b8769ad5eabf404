// SPDX-License-Identifier: MIT

package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/log"
)

// WhisperExec runs a local whisper-style CLI for each transcription. The
// binary is expected to emit a JSON document on stdout:
//
//	{"segments":[{"start":0.0,"end":4.2,"text":"..."}],"duration":5400.0,"language":"en"}
//
// Binary availability is probed lazily and cached process-wide; the model
// itself is loaded by the CLI on each call.
type WhisperExec struct {
	BinPath string // default "whisper-ctl"
	Model   string
	UseGPU  bool

	probeOnce sync.Once
	probeErr  error
}

// NewWhisperExec builds an exec-based transcriber.
func NewWhisperExec(binPath, model string, useGPU bool) *WhisperExec {
	if binPath == "" {
		binPath = "whisper-ctl"
	}
	return &WhisperExec{BinPath: binPath, Model: model, UseGPU: useGPU}
}

func (w *WhisperExec) probe() error {
	w.probeOnce.Do(func() {
		if _, err := exec.LookPath(w.BinPath); err != nil {
			w.probeErr = faults.Wrap(faults.ModelLoadFailed, err, "caption backend %q not found", w.BinPath)
		}
	})
	return w.probeErr
}

// Transcribe implements Transcriber.
func (w *WhisperExec) Transcribe(ctx context.Context, path string, opts Options) (*Result, error) {
	logger := log.WithComponentFromContext(ctx, "caption")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.Wrap(faults.InputNotFound, err, "media file missing: %s", path)
		}
		return nil, faults.Wrap(faults.InputUnreadable, err, "stat media file: %s", path)
	}
	if f, err := os.Open(path); err != nil {
		return nil, faults.Wrap(faults.InputUnreadable, err, "open media file: %s", path)
	} else {
		_ = f.Close()
	}

	if err := w.probe(); err != nil {
		return nil, err
	}

	args := []string{
		"--output-format", "json",
		"--model", w.Model,
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.ComputeHint != "" {
		args = append(args, "--compute-type", opts.ComputeHint)
	}
	if opts.BatchHint > 0 {
		args = append(args, "--batch-size", strconv.Itoa(opts.BatchHint))
	}
	if w.UseGPU {
		args = append(args, "--device", "cuda")
	}
	args = append(args, path)

	logger.Info().
		Str(log.FieldEvent, "transcribe.start").
		Str(log.FieldPath, path).
		Int64("size_bytes", info.Size()).
		Str("model", w.Model).
		Msg("starting transcription")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.BinPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Wrap(faults.TranscribeFailed, err, "caption backend failed: %s", tail(stderr.String(), 300))
	}

	var raw Result
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, faults.Wrap(faults.TranscribeFailed, err, "caption backend produced invalid JSON")
	}

	raw.Segments = Normalize(raw.Segments)
	if raw.Model == "" {
		raw.Model = w.Model
	}
	if raw.Duration == 0 && len(raw.Segments) > 0 {
		raw.Duration = raw.Segments[len(raw.Segments)-1].End
	}

	logger.Info().
		Str(log.FieldEvent, "transcribe.done").
		Str(log.FieldPath, path).
		Int("segments", len(raw.Segments)).
		Float64("duration_s", raw.Duration).
		Msg("transcription complete")

	return &raw, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
