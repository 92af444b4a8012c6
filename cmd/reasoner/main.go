// Command reasoner runs the Reasoner process: a fixed-port acceptor for
// the Transcriber's per-call connections, turn detection, and bounded
// LLM replies streamed on to the Synthesizer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chtugha/callfabric/internal/reasoner"
	"github.com/chtugha/callfabric/pkg/config"
	"github.com/chtugha/callfabric/pkg/control"
	"github.com/chtugha/callfabric/pkg/engine/llm"
	"github.com/chtugha/callfabric/pkg/logging"
	"github.com/chtugha/callfabric/pkg/store"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := &config.Base{OutHost: "127.0.0.1", OutPort: 8090, Model: "gpt-4o-mini"}
	var controlSocket, logLevel, provider, systemPrompt, metricsAddr string
	fs := pflag.NewFlagSet("reasoner", pflag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	fs.StringVar(&controlSocket, "control-socket", "/tmp/callfabric-reasoner.sock", "path to this component's control socket")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&provider, "llm-provider", "openai", "openai|anthropic|google")
	fs.StringVar(&systemPrompt, "system-prompt", llm.DefaultSystemPrompt, "persona/system prompt every reply is generated under")
	fs.StringVar(&metricsAddr, "metrics-addr", ":9465", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	if err := config.Load(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "reasoner:", err)
		os.Exit(1)
	}
	_ = godotenv.Load()

	log := logging.New("reasoner")
	log.SetLevel(logLevel)

	tel, err := telemetry.New("reasoner")
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

	var engine llm.Engine
	switch provider {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			log.Error("ANTHROPIC_API_KEY must be set for anthropic llm provider")
			os.Exit(1)
		}
		engine = llm.NewAnthropicEngine(key, cfg.Model)
	case "google":
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			log.Error("GOOGLE_API_KEY must be set for google llm provider")
			os.Exit(1)
		}
		engine, err = llm.NewGoogleEngine(context.Background(), key, cfg.Model)
		if err != nil {
			log.Error("google llm client init failed", "err", err)
			os.Exit(1)
		}
	case "openai":
		fallthrough
	default:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			log.Error("OPENAI_API_KEY must be set for openai llm provider")
			os.Exit(1)
		}
		engine = llm.NewOpenAIEngine(key, cfg.Model)
	}
	defer engine.Close()
	log.Info("llm backend ready", "provider", provider, "model", cfg.Model)

	var st *store.Store
	if cfg.Database != "" {
		st, err = store.Open(cfg.Database)
		if err != nil {
			log.Error("store open failed", "err", err)
			os.Exit(1)
		}
		defer st.Close()
	}

	synthesizerAddr := fmt.Sprintf("%s:%d", cfg.OutHost, cfg.OutPort)
	comp := reasoner.NewComponent(synthesizerAddr, systemPrompt, llm.NewRateLimitedSerialized(engine, 8, 4), st, log, tel)

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
		log.Warn("reasoner serve loops exited", "err", err)
	}
}
