package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	relay "github.com/halden1427/gorelay"
)

// checkCmd validates the configuration and probes every enabled
// backend once.
func checkCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configDir := fs.String("config", relay.DefaultConfigDir(), "Configuration directory")
	timeout := fs.Duration("timeout", 15*time.Second, "Health check timeout")

	fs.Usage = func() {
		fmt.Println(`Usage: relay check [options]

Validate the configuration directory and run one health check round
against every enabled backend.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	loadHomeEnv()
	cfg := loadConfig(*configDir)
	setupLogging("error")

	fmt.Printf("Configuration valid: %s\n\n", *configDir)

	secrets := relay.SecretsFromEnv()
	backends := relay.BuildBackends(cfg, secrets)
	if len(backends) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no usable backend, check backends.yaml and your credentials")
		os.Exit(1)
	}

	limits := cfg.RateLimits()
	failed := 0
	for _, b := range backends {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		healthy := b.HealthCheck(ctx)
		cancel()

		mark := "ok"
		if !healthy {
			mark = "UNREACHABLE"
			failed++
		}

		lim := limits[b.Name()]
		fmt.Printf("  %-14s %-12s model=%s rpm=%d tpm=%d\n",
			b.Name(), mark, b.CurrentModel(), lim.RequestsPerMinute, lim.TokensPerMinute)
	}

	if failed == len(backends) {
		fmt.Fprintln(os.Stderr, "\nError: every backend is unreachable")
		os.Exit(1)
	}
	fmt.Printf("\n%d of %d backends reachable\n", len(backends)-failed, len(backends))
}
