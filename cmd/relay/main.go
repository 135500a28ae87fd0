// Package main provides the relay CLI.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	relay "github.com/halden1427/gorelay"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		serveCmd(args)
	case "check":
		checkCmd(args)
	case "init":
		initCmd()
	case "version":
		fmt.Printf("relay %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Relay - Multi-backend LLM chat bot

Usage:
  relay <command> [options]

Commands:
  serve     Start the bot, health checks, and the web dashboard
  check     Validate the configuration and probe every backend
  init      Interactive setup: API keys and default configuration
  version   Print version information
  help      Show this help message

Examples:
  relay init
  relay serve
  relay serve --addr :8080 --config ./config
  relay check

Run 'relay <command> --help' for more information on a command.`)
}

// loadHomeEnv hydrates the process environment from ~/.relay/env so
// keys written by 'relay init' are visible without exporting them.
// Variables already set in the environment win.
func loadHomeEnv() {
	f, err := os.Open(relay.EnvPath())
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, strings.TrimSpace(val))
		}
	}
}

// setupLogging points slog at stderr with the configured level.
func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// loadConfig reads and validates the configuration directory.
func loadConfig(dir string) *relay.Config {
	cfg, err := relay.LoadConfig(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config from %s: %v\n", dir, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	return cfg
}
