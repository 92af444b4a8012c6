// Command synthesizer runs the Synthesizer process: a fixed-port
// acceptor for the Reasoner's per-call connections, streaming each
// reply through a warmed TTS primitive to the Outbound Audio Processor.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chtugha/callfabric/internal/synthesizer"
	"github.com/chtugha/callfabric/pkg/config"
	"github.com/chtugha/callfabric/pkg/control"
	"github.com/chtugha/callfabric/pkg/engine/tts"
	"github.com/chtugha/callfabric/pkg/logging"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := &config.Base{Voice: "default"}
	var controlSocket, logLevel, metricsAddr string
	fs := pflag.NewFlagSet("synthesizer", pflag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	fs.StringVar(&controlSocket, "control-socket", "/tmp/callfabric-synthesizer.sock", "path to this component's control socket")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&metricsAddr, "metrics-addr", ":9466", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	if err := config.Load(cfg); err != nil {
		os.Stderr.WriteString("synthesizer: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New("synthesizer")
	log.SetLevel(logLevel)

	tel, err := telemetry.New("synthesizer")
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

	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if lokutorKey == "" {
		log.Error("LOKUTOR_API_KEY must be set")
		os.Exit(1)
	}
	engine := tts.NewLokutorEngine(lokutorKey)
	defer engine.Close()

	comp := synthesizer.NewComponent(cfg.Voice, engine, log, tel)

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
		log.Warn("synthesizer serve loops exited", "err", err)
	}
}
