package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"transcriber/pipeline"
)

// Keep error messages readable when ffmpeg dumps a lot of output.
const maxErrorOutput = 2048

// Transcoder extracts a normalized audio track with the ffmpeg binary.
type Transcoder struct {
	bin       string
	extraArgs []string
	log       logrus.FieldLogger
}

func NewTranscoder(bin, extraArgs string, log logrus.FieldLogger) (*Transcoder, error) {
	// Ensure ffmpeg binary is executable
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", bin)
	}
	extra, err := ParseExtraArgs(extraArgs, ReservedOptions)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg extra arguments: %w", err)
	}
	return &Transcoder{
		bin:       path,
		extraArgs: extra,
		log:       log,
	}, nil
}

func (tc *Transcoder) args(input, output string, spec pipeline.AudioSpec) []string {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(spec.Channels),
		"-ar", strconv.Itoa(spec.SampleRate),
	}
	if spec.Bitrate != "" {
		args = append(args, "-b:a", spec.Bitrate)
	}
	args = append(args, tc.extraArgs...)
	// ffmpeg's last argument is the output file
	return append(args, output)
}

// Transcode writes a mono, resampled WAV next to the input and returns its path.
func (tc *Transcoder) Transcode(ctx context.Context, input, dir string, spec pipeline.AudioSpec) (string, error) {
	output := filepath.Join(dir, "audio.wav")
	cmd := exec.CommandContext(ctx, tc.bin, tc.args(input, output, spec)...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	tc.log.WithField("cmd", strings.Join(cmd.Args, " ")).Debug("Executing ffmpeg")

	if err := cmd.Run(); err != nil {
		// Clean up the (likely empty or partial) output file.
		os.Remove(output)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg execution failed: %w: %s", err, tail(outputBuf.String(), maxErrorOutput))
	}

	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		os.Remove(output)
		return "", fmt.Errorf("ffmpeg produced no audio for %s", filepath.Base(input))
	}
	return output, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
