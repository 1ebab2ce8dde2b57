// transcriber/main.go
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"transcriber/config"
	"transcriber/fetch"
	"transcriber/ffmpeg"
	"transcriber/logging"
	"transcriber/pipeline"
	"transcriber/whisper"
)

// Version is set at build time.
var Version = "dev"

var (
	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "Asynchronous media transcription service",
	Long: `transcriber downloads media from a URL, extracts a low bitrate mono audio
track with ffmpeg and transcribes it with a local whisper.cpp model.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runServe,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd, transcribeCmd, versionCmd)
}

// versionCmd overrides the root pre-run hook since it needs no configuration.
var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "transcriber", Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Logs go to stderr so the transcribe command can print to stdout.
	logger, err = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.WithField("version", Version).Debug("Configuration loaded")
	return nil
}

// buildPipeline wires the fetch, transcode and recognize collaborators.
func buildPipeline(cfg *config.Config, log logrus.FieldLogger) (*pipeline.Runner, *whisper.Shared, error) {
	fetcher, err := fetch.New(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize media fetcher: %w", err)
	}

	transcoder, err := ffmpeg.NewTranscoder(cfg.FFBin, cfg.FFExtraArgs, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	loader := whisper.Loader{
		Bin:       cfg.WhisperBin,
		ModelsDir: cfg.WhisperModelsDir,
		Model:     cfg.WhisperModel,
		ExtraArgs: cfg.WhisperExtraArgs,
		Log:       log,
	}
	models := whisper.NewShared(loader.Load, log)

	runner := pipeline.NewRunner(pipeline.Config{
		WorkDir:      cfg.WorkDir,
		FetchTimeout: cfg.FetchTimeout,
		Audio: pipeline.AudioSpec{
			Channels:   1,
			SampleRate: cfg.AudioSampleRate,
			Bitrate:    cfg.AudioBitrate,
		},
		Language:             cfg.Language,
		SerializeRecognition: cfg.RecognizerSerial,
	}, fetcher, transcoder, models, log)

	return runner, models, nil
}
