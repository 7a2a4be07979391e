package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calltap/calltap/internal/config"
	"github.com/calltap/calltap/internal/dialer"
	"github.com/calltap/calltap/internal/httpserver"
	"github.com/calltap/calltap/internal/logger"
	"github.com/calltap/calltap/internal/media"
	"github.com/calltap/calltap/internal/playback"
	"github.com/calltap/calltap/internal/session"
	"github.com/calltap/calltap/internal/sink"
	"github.com/calltap/calltap/internal/stream"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	codec := media.CodecPCMU8K

	var out sink.Sink
	switch cfg.SinkBackend {
	case "null":
		out = sink.NewNull(codec.SampleDur)
	default:
		out = sink.NewSpeaker(codec.SampleDur)
	}

	// Open the device up front so a missing output is a startup
	// failure, not a mid-call abort. The scheduler reuses the open sink.
	if err := out.Open(codec.SampleRate, codec.Channels, codec.SampleWidth); err != nil {
		slog.Error("Audio sink unavailable", "sink", cfg.SinkBackend, "error", err)
		os.Exit(1)
	}

	buf := playback.NewBuffer(cfg.BufferFrames, codec.SampleDur)
	scheduler := playback.NewScheduler(playback.Config{
		Codec:         codec,
		PrimingFrames: cfg.PrimingFrames,
	}, buf, out)

	placer := dialer.NewTwilio(dialer.Config{
		AccountSID:     cfg.AccountSID,
		AuthToken:      cfg.AuthToken,
		FromNumber:     cfg.FromNumber,
		TwiMLURL:       cfg.TwiMLURL(),
		StatusCallback: cfg.StatusCallbackURL(),
	})

	controller := session.NewController(placer, scheduler)
	streams := stream.NewHandler(codec, buf, controller)
	controller.SetStream(streams)

	server := httpserver.New(cfg, streams, controller)

	run(cfg, controller, server)
}

func run(cfg *config.Config, controller *session.Controller, server *httpserver.Server) {
	slog.Info("Starting calltap media bridge",
		"addr", cfg.HTTPAddr,
		"sink", cfg.SinkBackend,
	)

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.Target != "" {
		// Give the HTTP listener a moment before Twilio calls back.
		time.Sleep(100 * time.Millisecond)
		callID, err := controller.RequestCall(context.Background(), cfg.Target)
		if err != nil {
			slog.Error("Failed to place call", "target", cfg.Target, "error", err)
			os.Exit(1)
		}
		slog.Info("Call requested", "call_sid", callID, "target", cfg.Target)
	} else {
		slog.Info("No target configured, waiting for inbound media stream")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	controller.Shutdown(ctx)
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
