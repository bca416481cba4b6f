// Package config parses the proxy's single command-line flag and its pool
// tuning environment variables. None of these affect LSP semantics; they
// are ambient tunables with documented defaults.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds every externally-tunable knob of the proxy.
type Config struct {
	// DebugProtocol enables framed-message dumps to the diagnostics sink on
	// every pipe (client and every backend).
	DebugProtocol bool

	// PoolCapacity is the maximum number of backend instances kept alive
	// concurrently. Warming entries count toward this limit.
	PoolCapacity int

	// TTL is how long a backend may sit idle before becoming eligible for
	// eviction on the next tick.
	TTL time.Duration

	// EvictInterval is the period of the TTL sweep.
	EvictInterval time.Duration

	// SpawnCooldown bounds how often a failing environment may be retried.
	SpawnCooldown time.Duration

	// StatusAddr, if non-empty, enables the websocket pool inspector on
	// this address (e.g. "127.0.0.1:7777").
	StatusAddr string

	// PyrightCommand is the backend binary to invoke; overridable so tests
	// can substitute a fake language server.
	PyrightCommand string
}

// Default returns the configuration implied by the spec's stated defaults
// before any flag or environment override is applied.
func Default() Config {
	return Config{
		PoolCapacity:   4,
		TTL:            10 * time.Minute,
		EvictInterval:  5 * time.Second,
		SpawnCooldown:  5 * time.Second,
		PyrightCommand: "pyright-langserver",
	}
}

// ParseFlags parses args (typically os.Args[1:]) against the single
// --debug-protocol flag and layers environment overrides on top of
// Default(). It never reads from the process's global flag.CommandLine so
// it is safe to call more than once (e.g. from tests).
func ParseFlags(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("pyright-lsp-proxy", flag.ContinueOnError)
	debugProtocol := fs.Bool("debug-protocol", false, "enable framed-message dumps to the diagnostics sink")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.DebugProtocol = *debugProtocol

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupInt("LSP_PROXY_POOL_CAPACITY"); ok && v > 0 {
		cfg.PoolCapacity = v
	}
	if v, ok := lookupDuration("LSP_PROXY_TTL"); ok {
		cfg.TTL = v
	}
	if v, ok := lookupDuration("LSP_PROXY_EVICT_INTERVAL"); ok {
		cfg.EvictInterval = v
	}
	if v, ok := lookupDuration("LSP_PROXY_SPAWN_COOLDOWN"); ok {
		cfg.SpawnCooldown = v
	}
	if v, ok := os.LookupEnv("LSP_PROXY_STATUS_ADDR"); ok {
		cfg.StatusAddr = v
	}
	if v, ok := os.LookupEnv("LSP_PROXY_PYRIGHT_CMD"); ok && v != "" {
		cfg.PyrightCommand = v
	}
}

func lookupInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupDuration(name string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}
