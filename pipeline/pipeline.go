// Package pipeline runs the download, audio extraction and speech recognition
// stages for a single task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"transcriber/metrics"
	"transcriber/task"
)

// Fetcher downloads the media behind url into dir and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) (string, error)
}

// AudioSpec describes the normalized audio handed to the recognizer.
type AudioSpec struct {
	Channels   int
	SampleRate int
	Bitrate    string
}

// Transcoder converts media at input into audio matching spec, written into dir.
type Transcoder interface {
	Transcode(ctx context.Context, input, dir string, spec AudioSpec) (string, error)
}

// DecodeOptions are the recognizer's decoding parameters.
type DecodeOptions struct {
	Language    string
	BestOf      int
	BeamSize    int
	Temperature float64
}

// Recognizer turns an audio file into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio string, opts DecodeOptions) (string, error)
}

// ModelProvider hands out the shared recognizer, loading it on first use.
type ModelProvider interface {
	Acquire(ctx context.Context) (Recognizer, error)
}

// Progress messages reported before each stage.
const (
	MessageFetching    = "Downloading media"
	MessageTranscoding = "Extracting audio"
	MessageLoading     = "Loading speech model"
	MessageRecognizing = "Transcribing audio"
)

type Config struct {
	WorkDir      string
	FetchTimeout time.Duration
	Audio        AudioSpec
	Language     string
	// SerializeRecognition must be set when the recognizer is not safe for
	// concurrent use.
	SerializeRecognition bool
}

// Deterministic decoding: a single candidate at zero temperature.
func (c Config) decodeOptions() DecodeOptions {
	return DecodeOptions{
		Language:    c.Language,
		BestOf:      1,
		BeamSize:    1,
		Temperature: 0,
	}
}

// Runner implements task.Runner on top of the three stage collaborators.
type Runner struct {
	cfg        Config
	fetcher    Fetcher
	transcoder Transcoder
	models     ModelProvider
	log        logrus.FieldLogger

	recognizeMu sync.Mutex
}

func NewRunner(cfg Config, fetcher Fetcher, transcoder Transcoder, models ModelProvider, log logrus.FieldLogger) *Runner {
	if cfg.Audio == (AudioSpec{}) {
		cfg.Audio = AudioSpec{Channels: 1, SampleRate: 16000, Bitrate: "32k"}
	}
	return &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		transcoder: transcoder,
		models:     models,
		log:        log,
	}
}

// Run executes every stage for job. The scratch directory is removed on all
// exit paths, and every error is a *task.StageError.
func (r *Runner) Run(ctx context.Context, job task.Job, progress func(msg string)) (string, error) {
	logger := r.log.WithField("task_id", job.ID)

	workDir, err := os.MkdirTemp(r.cfg.WorkDir, "task_"+job.ID+"_")
	if err != nil {
		return "", task.NewStageError(task.InternalError, fmt.Errorf("could not create work directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.WithError(err).Warn("Could not remove work directory")
		}
	}()

	// 1. Fetch
	progress(MessageFetching)
	var media string
	err = r.stage(ctx, logger, "fetch", task.FetchFailed, func() error {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.FetchTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, r.cfg.FetchTimeout)
		}
		defer cancel()
		var err error
		media, err = r.fetcher.Fetch(fetchCtx, job.URL, workDir)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("download exceeded time limit of %s: %w", r.cfg.FetchTimeout, err)
		}
		return err
	})
	if err != nil {
		return "", err
	}

	// 2. Transcode, then drop the fetched media straight away.
	progress(MessageTranscoding)
	var audio string
	err = r.stage(ctx, logger, "transcode", task.TranscodeFailed, func() error {
		var err error
		audio, err = r.transcoder.Transcode(ctx, media, workDir, r.cfg.Audio)
		return err
	})
	if rmErr := os.Remove(media); rmErr != nil && !os.IsNotExist(rmErr) {
		logger.WithError(rmErr).Warn("Could not remove fetched media")
	}
	if err != nil {
		return "", err
	}

	// 3. Recognize
	progress(MessageLoading)
	var recognizer Recognizer
	err = r.stage(ctx, logger, "load_model", task.RecognitionFailed, func() error {
		var err error
		recognizer, err = r.models.Acquire(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	progress(MessageRecognizing)
	var transcript string
	err = r.stage(ctx, logger, "recognize", task.RecognitionFailed, func() error {
		if r.cfg.SerializeRecognition {
			r.recognizeMu.Lock()
			defer r.recognizeMu.Unlock()
		}
		var err error
		transcript, err = recognizer.Recognize(ctx, audio, r.cfg.decodeOptions())
		return err
	})
	if err != nil {
		return "", err
	}
	return transcript, nil
}

// stage times fn and converts its error into a StageError of kind. An error
// caused by cancelling the task's context is reported as Cancelled instead.
func (r *Runner) stage(ctx context.Context, logger logrus.FieldLogger, name string, kind task.FailureKind, fn func() error) error {
	logger = logger.WithField("stage", name)
	logger.Debug("Stage started")
	start := time.Now()

	err := fn()
	elapsed := time.Since(start)
	if err == nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			metrics.StageDuration.WithLabelValues(name, "ok").Observe(elapsed.Seconds())
			logger.WithField("elapsed", elapsed).Debug("Stage finished")
			return nil
		}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		kind = task.Cancelled
	}
	metrics.StageDuration.WithLabelValues(name, "error").Observe(elapsed.Seconds())
	return task.NewStageError(kind, fmt.Errorf("%s stage: %w", name, err))
}
