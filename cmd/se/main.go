// Command se runs the SIP Endpoint process: one control socket acceptor
// and, per ACTIVATE(C), a local RTP transceiver bridging SE's shared
// memory rings to the public-network RTP endpoint for call C.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chtugha/callfabric/internal/se"
	"github.com/chtugha/callfabric/pkg/config"
	"github.com/chtugha/callfabric/pkg/control"
	"github.com/chtugha/callfabric/pkg/logging"
	"github.com/chtugha/callfabric/pkg/store"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/spf13/pflag"
)

func main() {
	cfg := &config.Base{Port: 20000}
	var controlSocket, logLevel, metricsAddr string
	fs := pflag.NewFlagSet("se", pflag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	fs.StringVar(&controlSocket, "control-socket", "/tmp/callfabric-se.sock", "path to this component's control socket")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&metricsAddr, "metrics-addr", ":9461", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	if err := config.Load(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "se:", err)
		os.Exit(1)
	}

	log := logging.New("se")
	log.SetLevel(logLevel)

	tel, err := telemetry.New("se")
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

	var st *store.Store
	if cfg.Database != "" {
		st, err = store.Open(cfg.Database)
		if err != nil {
			log.Error("store open failed", "err", err)
			os.Exit(1)
		}
		defer st.Close()
	}

	comp := se.NewComponent(cfg.Port, log, tel)

	// SIP signaling resolves a call id to the caller's RTP endpoint; out
	// of scope here (§1 non-goals), so this binary looks the address up
	// from whatever the signaling layer persisted for that call.
	comp.RemoteEndpoint = func(callID int) (string, error) {
		if st == nil {
			return "", fmt.Errorf("se: no store configured, cannot resolve remote endpoint for call %d", callID)
		}
		addr, ok, err := st.GetSetting(fmt.Sprintf("call_remote_rtp_%d", callID))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("se: no remote rtp endpoint recorded for call %d", callID)
		}
		return addr, nil
	}

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
