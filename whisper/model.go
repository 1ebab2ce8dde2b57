// Package whisper drives a whisper.cpp command line build as the speech
// recognizer and keeps one shared, lazily loaded model for the process.
package whisper

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

	"transcriber/ffmpeg"
	"transcriber/pipeline"
)

// reservedOptions are set from DecodeOptions and the resolved model.
var reservedOptions = []string{"-m", "-f", "-l", "-bo", "-bs", "-tp", "-of", "-otxt", "-nt", "-np"}

// Loader resolves and verifies a model before it is handed out.
type Loader struct {
	Bin       string
	ModelsDir string
	Model     string
	ExtraArgs string
	Log       logrus.FieldLogger
}

// ModelPath maps a profile name such as "tiny" to <ModelsDir>/ggml-tiny.bin.
// Explicit file paths are used as given.
func (l Loader) ModelPath() string {
	if strings.HasSuffix(l.Model, ".bin") || strings.ContainsRune(l.Model, filepath.Separator) {
		return l.Model
	}
	return filepath.Join(l.ModelsDir, "ggml-"+l.Model+".bin")
}

// Load checks the binary and model file and returns a ready recognizer.
func (l Loader) Load(ctx context.Context) (pipeline.Recognizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(l.Bin)
	if err != nil {
		return nil, fmt.Errorf("whisper binary not found or not in PATH: %s", l.Bin)
	}

	path := l.ModelPath()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model %q not available: %w", l.Model, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return nil, fmt.Errorf("model file %s is not a usable model", path)
	}

	extra, err := ffmpeg.ParseExtraArgs(l.ExtraArgs, reservedOptions)
	if err != nil {
		return nil, fmt.Errorf("invalid whisper extra arguments: %w", err)
	}

	l.Log.WithFields(logrus.Fields{"model": l.Model, "path": path, "bytes": info.Size()}).Info("Speech model loaded")
	return &Model{
		name:      l.Model,
		bin:       bin,
		path:      path,
		extraArgs: extra,
		log:       l.Log,
	}, nil
}

// Model runs one whisper.cpp process per recognition. Separate processes
// make it safe for concurrent use.
type Model struct {
	name      string
	bin       string
	path      string
	extraArgs []string
	log       logrus.FieldLogger
}

func (m *Model) Name() string { return m.name }

func (m *Model) args(audio, outBase string, opts pipeline.DecodeOptions) []string {
	args := []string{
		"-m", m.path,
		"-f", audio,
		"-l", opts.Language,
		"-bo", strconv.Itoa(opts.BestOf),
		"-bs", strconv.Itoa(opts.BeamSize),
		"-tp", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"-nt",
		"-np",
		"-otxt",
		"-of", outBase,
	}
	return append(args, m.extraArgs...)
}

// Recognize transcribes audio and returns the text with line breaks folded.
func (m *Model) Recognize(ctx context.Context, audio string, opts pipeline.DecodeOptions) (string, error) {
	outBase := strings.TrimSuffix(audio, filepath.Ext(audio)) + "_transcript"
	cmd := exec.CommandContext(ctx, m.bin, m.args(audio, outBase, opts)...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	m.log.WithField("model", m.name).Debug("Running whisper")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("whisper execution failed: %w: %s", err, strings.TrimSpace(outputBuf.String()))
	}

	txtPath := outBase + ".txt"
	defer os.Remove(txtPath)
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("could not read transcript: %w", err)
	}

	lines := strings.FieldsFunc(string(data), func(r rune) bool { return r == '\n' || r == '\r' })
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, " ")), nil
}
