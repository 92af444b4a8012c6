// Package config implements the fabric's layered configuration: CLI
// flags (spf13/pflag), an optional YAML file, .env-sourced environment
// variables (joho/godotenv), and persisted store overrides (§6). Flags
// take precedence over the YAML file; store overrides, read at runtime
// by the component itself, take precedence over both.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Base holds the flags common to every component binary (§6):
// --model, --database, --port, --threads, plus the component's own
// endpoint flags layered on top by each cmd/ main.
type Base struct {
	Model    string `yaml:"model"`
	Database string `yaml:"database"`
	Port     int    `yaml:"port"`
	Threads  int    `yaml:"threads"`
	Voice    string `yaml:"voice"`

	OutHost string `yaml:"out_host"`
	OutPort int    `yaml:"out_port"`

	LlamaHost string `yaml:"llama_host"`
	LlamaPort int    `yaml:"llama_port"`

	ConfigFile string `yaml:"-"`
}

// RegisterFlags defines the common flags on fs, defaulting to def's
// current values (so a caller can seed defaults before parsing).
func RegisterFlags(fs *pflag.FlagSet, def *Base) {
	fs.StringVar(&def.Model, "model", def.Model, "path to the model file this component warms at startup")
	fs.StringVar(&def.Database, "database", def.Database, "path to the sqlite persistence store")
	fs.IntVar(&def.Port, "port", def.Port, "TCP/control port this component binds")
	fs.IntVar(&def.Threads, "threads", def.Threads, "worker thread count for inference")
	fs.StringVar(&def.Voice, "voice", def.Voice, "default voice id")
	fs.StringVar(&def.OutHost, "out-host", def.OutHost, "downstream component host")
	fs.IntVar(&def.OutPort, "out-port", def.OutPort, "downstream component base port")
	fs.StringVar(&def.LlamaHost, "llama-host", def.LlamaHost, "local LLM host")
	fs.IntVar(&def.LlamaPort, "llama-port", def.LlamaPort, "local LLM port")
	fs.StringVar(&def.ConfigFile, "config", def.ConfigFile, "optional YAML config file overlaying these defaults")
}

// Load parses a .env file (if present), applies a YAML config file (if
// named by cfg.ConfigFile) over cfg's current values, and returns the
// merged result. Call this after pflag.Parse() has filled in flag-level
// values into cfg, so flags win over YAML except where a flag was left
// at its zero default and YAML sets it explicitly... in practice this
// fabric treats flags as authoritative once set, so YAML only fills
// fields still at their zero value.
func Load(cfg *Base) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: loading .env: %w", err)
	}

	if cfg.ConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", cfg.ConfigFile, err)
	}

	var fromFile Base
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("config: parsing %s: %w", cfg.ConfigFile, err)
	}

	mergeZero(&cfg.Model, fromFile.Model)
	mergeZero(&cfg.Database, fromFile.Database)
	mergeZeroInt(&cfg.Port, fromFile.Port)
	mergeZeroInt(&cfg.Threads, fromFile.Threads)
	mergeZero(&cfg.Voice, fromFile.Voice)
	mergeZero(&cfg.OutHost, fromFile.OutHost)
	mergeZeroInt(&cfg.OutPort, fromFile.OutPort)
	mergeZero(&cfg.LlamaHost, fromFile.LlamaHost)
	mergeZeroInt(&cfg.LlamaPort, fromFile.LlamaPort)

	return nil
}

func mergeZero(dst *string, fromFile string) {
	if *dst == "" && fromFile != "" {
		*dst = fromFile
	}
}

func mergeZeroInt(dst *int, fromFile int) {
	if *dst == 0 && fromFile != 0 {
		*dst = fromFile
	}
}

// VADOverrides mirrors the persisted tuning knobs named in §6
// ("chunk/VAD tuning overrides"). No component reads it from the Store:
// IAP builds every call's detector from vad.DefaultParams().
type VADOverrides struct {
	Threshold  *float64
	HangoverMs *int
	PreRollMs  *int
	OverlapMs  *int
	MinChunkMs *int
	MaxChunkMs *int
}
