package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	voicemodel "github.com/zhouzirui/voicelink/internal/model/voice"
	"github.com/zhouzirui/voicelink/internal/service/recorder"
	"github.com/zhouzirui/voicelink/internal/service/transport"
	"github.com/zhouzirui/voicelink/internal/service/voice"
)

type streamOptions struct {
	address  string
	mode     string
	duration time.Duration
	linger   time.Duration
}

func newStreamCmd() *cobra.Command {
	var opts streamOptions

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Record once from the microphone, send it and print the replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			if opts.mode != "" {
				mode, err := recorder.ParseMode(opts.mode)
				if err != nil {
					return err
				}
				cfg.Voice.Recorder.Mode = mode
			}
			if opts.address == "" {
				opts.address = cfg.Voice.Address
			}

			ctrl := newController(cfg, logger, nil)
			return runStream(ctx, ctrl, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "websocket peer (default VOICE_WS_URL)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "emission mode: timesliced or single-shot (default VOICE_MODE)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 5*time.Second, "how long to record")
	cmd.Flags().DurationVar(&opts.linger, "linger", 3*time.Second, "how long to wait for replies after recording")
	return cmd
}

// runStream drives one headless session. It disconnects on every path and
// returns only after the printer has flushed the final log lines.
func runStream(ctx context.Context, ctrl *voice.Controller, opts streamOptions, stdout, stderr io.Writer) error {
	logs, cancelLogs := ctrl.Logs().Subscribe(64)
	defer cancelLogs()
	messages, cancelMessages := ctrl.Messages().Subscribe(64)
	defer cancelMessages()

	done := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for {
			select {
			case <-done:
				flushEntries(logs, messages, stdout, stderr)
				return
			case e := <-logs:
				fmt.Fprintf(stderr, "[%s] %s\n", e.Time, e.Text)
			case e := <-messages:
				fmt.Fprintf(stdout, "%s\n", e.Text)
			}
		}
	}()
	defer func() {
		ctrl.Disconnect()
		close(done)
		<-printed
	}()

	if err := ctrl.Connect(opts.address); err != nil {
		return err
	}
	if err := waitConnected(ctx, ctrl); err != nil {
		return err
	}

	if err := ctrl.ToggleRecording(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-time.After(opts.duration):
	}
	if ctrl.State().IsRecording {
		if err := ctrl.ToggleRecording(ctx); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(opts.linger):
	}
	return nil
}

// flushEntries prints whatever is still buffered without blocking.
func flushEntries(logs, messages <-chan voicemodel.Entry, stdout, stderr io.Writer) {
	for {
		select {
		case e := <-logs:
			fmt.Fprintf(stderr, "[%s] %s\n", e.Time, e.Text)
		case e := <-messages:
			fmt.Fprintf(stdout, "%s\n", e.Text)
		default:
			return
		}
	}
}

func waitConnected(ctx context.Context, ctrl *voice.Controller) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch status := ctrl.State().Status; status {
		case transport.StatusConnected:
			return nil
		case transport.StatusError, transport.StatusDisconnected:
			return fmt.Errorf("connection failed: %s", status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
