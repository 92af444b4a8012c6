// Command oap runs the Outbound Audio Processor process: one control
// socket acceptor and, per ACTIVATE(C), a per-call conversion pipeline
// from the Synthesizer's subchunk stream to SE's shared memory ring.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chtugha/callfabric/internal/oap"
	"github.com/chtugha/callfabric/pkg/config"
	"github.com/chtugha/callfabric/pkg/control"
	"github.com/chtugha/callfabric/pkg/logging"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/spf13/pflag"
)

func main() {
	cfg := &config.Base{}
	var controlSocket, logLevel, metricsAddr string
	fs := pflag.NewFlagSet("oap", pflag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	fs.StringVar(&controlSocket, "control-socket", "/tmp/callfabric-oap.sock", "path to this component's control socket")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&metricsAddr, "metrics-addr", ":9463", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	if err := config.Load(cfg); err != nil {
		os.Stderr.WriteString("oap: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New("oap")
	log.SetLevel(logLevel)

	tel, err := telemetry.New("oap")
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

	comp := oap.NewComponent(log, tel)

	srv, err := control.Listen(controlSocket)
	if err != nil {
		log.Error("control socket listen failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx, comp); err != nil {
			log.Error("control server stopped", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	comp.Shutdown()
	srv.Close()
}
