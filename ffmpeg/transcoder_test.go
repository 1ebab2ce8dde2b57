package ffmpeg

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"transcriber/pipeline"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// fakeFFmpeg writes a shell script standing in for ffmpeg. The script sees
// the output path as its last argument in $out.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	script := "#!/bin/sh\nfor out; do :; done\n" + body
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

var speechSpec = pipeline.AudioSpec{Channels: 1, SampleRate: 16000, Bitrate: "32k"}

func TestTranscoder_Args(t *testing.T) {
	tc := &Transcoder{bin: "ffmpeg", extraArgs: []string{"-af", "volume=2"}}
	args := tc.args("/work/media.mp4", "/work/audio.wav", speechSpec)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i /work/media.mp4")
	assert.Contains(t, joined, "-ac 1 -ar 16000 -b:a 32k")
	assert.Contains(t, joined, "-af volume=2")
	assert.Equal(t, "/work/audio.wav", args[len(args)-1])
}

func TestTranscoder_Transcode(t *testing.T) {
	t.Run("successful extraction", func(t *testing.T) {
		bin := fakeFFmpeg(t, `echo RIFF > "$out"`)
		tc, err := NewTranscoder(bin, "", quietLogger())
		require.NoError(t, err)

		dir := t.TempDir()
		audio, err := tc.Transcode(context.Background(), filepath.Join(dir, "media.mp4"), dir, speechSpec)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "audio.wav"), audio)
	})

	t.Run("malformed media", func(t *testing.T) {
		bin := fakeFFmpeg(t, `echo partial > "$out"; echo "media.mp4: Invalid data found when processing input" >&2; exit 1`)
		tc, err := NewTranscoder(bin, "", quietLogger())
		require.NoError(t, err)

		dir := t.TempDir()
		_, err = tc.Transcode(context.Background(), filepath.Join(dir, "media.mp4"), dir, speechSpec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid data found")
		_, statErr := os.Stat(filepath.Join(dir, "audio.wav"))
		assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
	})

	t.Run("no audio produced", func(t *testing.T) {
		bin := fakeFFmpeg(t, `exit 0`)
		tc, err := NewTranscoder(bin, "", quietLogger())
		require.NoError(t, err)

		dir := t.TempDir()
		_, err = tc.Transcode(context.Background(), filepath.Join(dir, "media.mp4"), dir, speechSpec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "produced no audio")
	})
}

func TestNewTranscoder(t *testing.T) {
	_, err := NewTranscoder("definitely-not-ffmpeg", "", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	bin := fakeFFmpeg(t, "exit 0")
	_, err = NewTranscoder(bin, "-i other.mp4", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ffmpeg extra arguments")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("  short \n", 10))
	assert.Equal(t, "...6789", tail("0123456789", 4))
}
