// Command transcriber runs the Transcriber process: a registration
// listener that, on each REGISTER from an Inbound Audio Processor, opens
// a per-call ASR session streaming text deltas to the Reasoner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chtugha/callfabric/internal/transcriber"
	"github.com/chtugha/callfabric/pkg/config"
	"github.com/chtugha/callfabric/pkg/control"
	"github.com/chtugha/callfabric/pkg/engine/stt"
	"github.com/chtugha/callfabric/pkg/logging"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := &config.Base{OutHost: "127.0.0.1", OutPort: 8083, Threads: 4}
	var controlSocket, logLevel, iapHost, language, metricsAddr string
	fs := pflag.NewFlagSet("transcriber", pflag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	fs.StringVar(&controlSocket, "control-socket", "/tmp/callfabric-transcriber.sock", "path to this component's control socket")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&iapHost, "iap-host", "127.0.0.1", "host the inbound audio processor's per-call listeners run on")
	fs.StringVar(&language, "language", "en", "ASR language hint")
	fs.StringVar(&metricsAddr, "metrics-addr", ":9464", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	if err := config.Load(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "transcriber:", err)
		os.Exit(1)
	}
	_ = godotenv.Load()

	log := logging.New("transcriber")
	log.SetLevel(logLevel)

	tel, err := telemetry.New("transcriber")
	if err != nil {
		log.Error("telemetry init failed", "err", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())
	go func() {
		if err := telemetry.Serve(metricsAddr); err != nil {
			log.Warn("metrics server stopped", "err", err)
		}
	}()

	var engine stt.Engine
	if cfg.Model != "" {
		engine, err = stt.NewWhisperEngine(cfg.Model, cfg.Threads, language)
		if err != nil {
			log.Error("whisper model warm-up failed", "model", cfg.Model, "err", err)
			os.Exit(1)
		}
		log.Info("asr backend ready", "backend", "whisper.cpp", "model", cfg.Model)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		engine = stt.NewOpenAICloudEngine(key, "whisper-1")
		log.Info("asr backend ready", "backend", "openai cloud fallback")
	} else {
		log.Error("no --model given and OPENAI_API_KEY unset, no ASR backend available")
		os.Exit(1)
	}
	defer engine.Close()

	asr := stt.NewSerialized(engine)
	reasonerAddr := fmt.Sprintf("%s:%d", cfg.OutHost, cfg.OutPort)
	comp := transcriber.NewComponent(iapHost, reasonerAddr, asr, log, tel)

	srv, err := control.Listen(controlSocket)
	if err != nil {
		log.Error("control socket listen failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error { return srv.Serve(ctx, comp) })
	eg.Go(func() error { return comp.Run(ctx) })

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	comp.Shutdown()
	srv.Close()
	if err := eg.Wait(); err != nil {
		log.Warn("transcriber serve loops exited", "err", err)
	}
}
