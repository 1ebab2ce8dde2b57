package whisper

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
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

var greedy = pipeline.DecodeOptions{Language: "es", BestOf: 1, BeamSize: 1, Temperature: 0}

// fakeWhisper writes a shell script that picks up the -of output base into $of.
func fakeWhisper(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	script := `#!/bin/sh
of=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) of="$2"; shift ;;
  esac
  shift
done
` + body
	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeModel(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-"+name+".bin"), []byte("lmgg"), 0o644))
}

func TestLoader_ModelPath(t *testing.T) {
	l := Loader{ModelsDir: "/models", Model: "tiny"}
	assert.Equal(t, filepath.Join("/models", "ggml-tiny.bin"), l.ModelPath())

	l.Model = "/opt/custom.bin"
	assert.Equal(t, "/opt/custom.bin", l.ModelPath())
}

func TestLoader_Load(t *testing.T) {
	bin := fakeWhisper(t, "exit 0")

	t.Run("loads an existing model", func(t *testing.T) {
		dir := t.TempDir()
		writeModel(t, dir, "tiny")
		rec, err := Loader{Bin: bin, ModelsDir: dir, Model: "tiny", Log: quietLogger()}.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tiny", rec.(*Model).Name())
	})

	t.Run("missing model file", func(t *testing.T) {
		_, err := Loader{Bin: bin, ModelsDir: t.TempDir(), Model: "large", Log: quietLogger()}.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `model "large" not available`)
	})

	t.Run("missing binary", func(t *testing.T) {
		dir := t.TempDir()
		writeModel(t, dir, "tiny")
		_, err := Loader{Bin: "definitely-not-whisper", ModelsDir: dir, Model: "tiny", Log: quietLogger()}.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("extra args may not override decoding", func(t *testing.T) {
		dir := t.TempDir()
		writeModel(t, dir, "tiny")
		_, err := Loader{Bin: bin, ModelsDir: dir, Model: "tiny", ExtraArgs: "-l en", Log: quietLogger()}.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid whisper extra arguments")
	})
}

func TestModel_Args(t *testing.T) {
	m := &Model{bin: "whisper-cli", path: "/models/ggml-tiny.bin", extraArgs: []string{"-t", "2"}}
	args := strings.Join(m.args("/work/audio.wav", "/work/audio_transcript", greedy), " ")

	assert.Contains(t, args, "-m /models/ggml-tiny.bin")
	assert.Contains(t, args, "-l es -bo 1 -bs 1 -tp 0")
	assert.Contains(t, args, "-otxt -of /work/audio_transcript")
	assert.True(t, strings.HasSuffix(args, "-t 2"))
}

func TestModel_Recognize(t *testing.T) {
	t.Run("joins transcript lines", func(t *testing.T) {
		bin := fakeWhisper(t, `printf ' hola\n mundo \n' > "$of.txt"`)
		m := &Model{name: "tiny", bin: bin, path: "model.bin", log: quietLogger()}

		dir := t.TempDir()
		text, err := m.Recognize(context.Background(), filepath.Join(dir, "audio.wav"), greedy)
		require.NoError(t, err)
		assert.Equal(t, "hola mundo", text)
		_, statErr := os.Stat(filepath.Join(dir, "audio_transcript.txt"))
		assert.True(t, os.IsNotExist(statErr), "transcript file should be removed")
	})

	t.Run("reports whisper output on failure", func(t *testing.T) {
		bin := fakeWhisper(t, `echo "failed to read WAV file" >&2; exit 2`)
		m := &Model{name: "tiny", bin: bin, path: "model.bin", log: quietLogger()}

		_, err := m.Recognize(context.Background(), filepath.Join(t.TempDir(), "audio.wav"), greedy)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read WAV file")
	})
}

type stubRecognizer struct{ id int }

func (s *stubRecognizer) Recognize(context.Context, string, pipeline.DecodeOptions) (string, error) {
	return "", nil
}

func TestShared_Acquire(t *testing.T) {
	t.Run("loads once under concurrent use", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		s := NewShared(func(context.Context) (pipeline.Recognizer, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return &stubRecognizer{id: calls}, nil
		}, quietLogger())

		var wg sync.WaitGroup
		got := make([]pipeline.Recognizer, 50)
		for i := range got {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := s.Acquire(context.Background())
				assert.NoError(t, err)
				got[i] = rec
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, s.Loads())
		for _, rec := range got {
			assert.Same(t, got[0], rec)
		}
		assert.True(t, s.Loaded())
	})

	t.Run("failed load is retried", func(t *testing.T) {
		fail := true
		s := NewShared(func(context.Context) (pipeline.Recognizer, error) {
			if fail {
				return nil, errors.New("out of memory")
			}
			return &stubRecognizer{}, nil
		}, quietLogger())

		_, err := s.Acquire(context.Background())
		require.Error(t, err)
		assert.False(t, s.Loaded())

		fail = false
		_, err = s.Acquire(context.Background())
		require.NoError(t, err)
		assert.True(t, s.Loaded())
	})
}

func TestShared_Unload(t *testing.T) {
	s := NewShared(func(context.Context) (pipeline.Recognizer, error) {
		return &stubRecognizer{}, nil
	}, quietLogger())

	assert.False(t, s.Unload(), "nothing loaded yet")

	first, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Unload())
	assert.False(t, s.Loaded())

	second, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, s.Loads())
}
