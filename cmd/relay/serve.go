package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	relay "github.com/halden1427/gorelay"
	"github.com/halden1427/gorelay/sandbox"
	"github.com/halden1427/gorelay/serve"
	"github.com/halden1427/gorelay/skills"
)

// serveCmd starts the Telegram bot, the health check scheduler and the
// web dashboard.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configDir := fs.String("config", relay.DefaultConfigDir(), "Configuration directory")
	addr := fs.String("addr", "", "Dashboard listen address (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")

	fs.Usage = func() {
		fmt.Println(`Usage: relay serve [options]

Start the Telegram bot with backend failover, periodic health checks
and the web dashboard.

Credentials come from the environment or ~/.relay/env:
  TELEGRAM_BOT_TOKEN, GROQ_API_KEY, OLLAMA_CLOUD_URL, OLLAMA_API_KEY

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  relay serve
  relay serve --addr :8080
  relay serve --config ./config --db /tmp/relay.db`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	loadHomeEnv()
	if err := relay.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", relay.Home(), err)
		os.Exit(1)
	}

	cfg := loadConfig(*configDir)
	setupLogging(cfg.Bot.LogLevel)

	if *addr != "" {
		cfg.Bot.ListenAddr = *addr
	}
	if *dbPath != "" {
		cfg.Bot.DatabasePath = *dbPath
	}
	if cfg.Bot.DatabasePath == "" {
		cfg.Bot.DatabasePath = relay.DefaultDBPath()
	}

	secrets := relay.SecretsFromEnv()

	backends := relay.BuildBackends(cfg, secrets)
	if len(backends) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no usable backend, check backends.yaml and your credentials")
		os.Exit(1)
	}

	tracker := relay.NewQuotaTracker(cfg.RateLimits())
	opts := make([]relay.RouterOption, 0, len(backends))
	for _, b := range backends {
		opts = append(opts, relay.WithBackend(b))
	}
	router := relay.NewRouter(tracker, opts...)

	store, err := serve.NewSQLiteStore(cfg.Bot.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database %s: %v\n", cfg.Bot.DatabasePath, err)
		os.Exit(1)
	}
	if err := store.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	auth := serve.NewAuth(cfg.Permissions)
	commands := serve.NewCommands(router, tracker, store, auth, cfg, version)

	registry := skills.NewRegistry(skills.NewCalc(), skills.NewWeather(), skills.NewCrypto(), skills.NewWiki())
	sb := sandbox.New()
	defer sb.Close()
	if sb.Available() {
		registry.Register(skills.NewPython(sb))
	} else {
		slog.Info("docker unavailable, python skill disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := serve.New(router, tracker, store, serve.Config{
		Addr:    cfg.Bot.ListenAddr,
		BotName: cfg.Bot.BotName,
	})

	scheduler := serve.NewHealthScheduler(router, tracker, store, srv.Broker())
	go func() {
		if err := scheduler.Start(ctx); err != nil {
			slog.Error("health scheduler stopped", "error", err)
		}
	}()

	if secrets.TelegramToken != "" {
		bot, err := serve.NewTelegramBot(secrets.TelegramToken, router, commands, auth,
			registry, store, cfg.Bot.MaxContextMessages)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to Telegram: %v\n", err)
			os.Exit(1)
		}
		go bot.Start(ctx)
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN not set, running dashboard only")
	}

	fmt.Printf("%s listening on %s (%d backends)\n",
		cfg.Bot.BotName, cfg.Bot.ListenAddr, len(backends))

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
