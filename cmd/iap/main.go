// Command iap runs the Inbound Audio Processor process: one control
// socket acceptor and, per ACTIVATE(C), a per-call VAD and forwarding
// pipeline from SE's shared memory ring to the Transcriber.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chtugha/callfabric/internal/iap"
	"github.com/chtugha/callfabric/pkg/config"
	"github.com/chtugha/callfabric/pkg/control"
	"github.com/chtugha/callfabric/pkg/logging"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/spf13/pflag"
)

func main() {
	cfg := &config.Base{OutHost: "127.0.0.1", OutPort: iap.RegistrationPort}
	var controlSocket, logLevel, metricsAddr string
	fs := pflag.NewFlagSet("iap", pflag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	fs.StringVar(&controlSocket, "control-socket", "/tmp/callfabric-iap.sock", "path to this component's control socket")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&metricsAddr, "metrics-addr", ":9462", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	if err := config.Load(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "iap:", err)
		os.Exit(1)
	}

	log := logging.New("iap")
	log.SetLevel(logLevel)

	tel, err := telemetry.New("iap")
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

	transcriberRegAddr := fmt.Sprintf("%s:%d", cfg.OutHost, cfg.OutPort)
	comp := iap.NewComponent(transcriberRegAddr, log, tel)

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
