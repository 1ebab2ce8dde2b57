package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/cobra"

	"transcriber/task"
)

var transcribeOutput string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <url>",
	Short: "Transcribe one URL in the foreground and print the text",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeOutput, "output", "o", "", "Write the transcript to this file instead of stdout")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	runner, _, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := task.Job{ID: shortuuid.New(), URL: args[0]}
	log := logger.WithField("task_id", job.ID)
	transcript, err := runner.Run(ctx, job, func(msg string) {
		log.Info(msg)
	})
	if err != nil {
		return err
	}

	if transcribeOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), transcript)
		return nil
	}
	if err := os.WriteFile(transcribeOutput, []byte(transcript+"\n"), 0o644); err != nil {
		return fmt.Errorf("could not write transcript: %w", err)
	}
	log.WithField("file", transcribeOutput).Info("Transcript saved")
	return nil
}
