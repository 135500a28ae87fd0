package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	relay "github.com/halden1427/gorelay"
	"github.com/halden1427/gorelay/llm"
)

// initCmd interactively collects credentials and writes ~/.relay/env.
func initCmd() {
	fmt.Println(`
  Relay Setup
  ─────────────────────────────`)

	home := relay.Home()
	envPath := relay.EnvPath()

	existing := loadExistingEnv(envPath)
	if len(existing) > 0 {
		fmt.Println("\n  Found existing configuration at", envPath)
		for k, v := range existing {
			fmt.Printf("    %s = %s\n", k, maskKey(v))
		}
		fmt.Println()
		if !confirm("  Reconfigure?") {
			fmt.Println("\n  Keeping existing configuration. You're all set!")
			printNextSteps()
			return
		}
	}

	scanner := bufio.NewScanner(os.Stdin)

	// Telegram bot token (required, the bot is the primary surface).
	fmt.Println("\n  Telegram bot token (required)")
	fmt.Println("  Create a bot via @BotFather on Telegram")
	fmt.Print("\n  TELEGRAM_BOT_TOKEN: ")
	var telegramToken string
	if scanner.Scan() {
		telegramToken = strings.TrimSpace(scanner.Text())
	}
	if telegramToken == "" {
		fmt.Fprintln(os.Stderr, "\n  Error: bot token is required. Run 'relay init' to try again.")
		os.Exit(1)
	}

	// Groq API key (optional; local Ollama works without it).
	fmt.Println("\n  Groq API key (optional — press Enter to skip)")
	fmt.Println("  Get one at: https://console.groq.com/keys")
	fmt.Print("\n  GROQ_API_KEY: ")
	var groqKey string
	if scanner.Scan() {
		groqKey = strings.TrimSpace(scanner.Text())
	}

	if groqKey != "" {
		fmt.Print("  Validating key... ")
		backend := llm.NewGroq(llm.WithGroqAPIKey(groqKey))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		healthy := backend.HealthCheck(ctx)
		cancel()

		if !healthy {
			fmt.Println("failed")
			fmt.Fprintln(os.Stderr, "  Warning: could not reach Groq with this key. Saving it anyway.")
		} else {
			fmt.Println("valid!")
		}
	}

	if err := relay.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "\n  Error creating %s: %v\n", home, err)
		os.Exit(1)
	}

	// Merge: only overwrite keys the user provided.
	existing["TELEGRAM_BOT_TOKEN"] = telegramToken
	if groqKey != "" {
		existing["GROQ_API_KEY"] = groqKey
	}

	if err := writeEnvFile(envPath, existing); err != nil {
		fmt.Fprintf(os.Stderr, "\n  Error writing %s: %v\n", envPath, err)
		os.Exit(1)
	}

	fmt.Printf("\n  Configuration saved to %s\n", envPath)
	printNextSteps()
}

func printNextSteps() {
	fmt.Print(`
  Next steps:
    relay check         Validate config and probe every backend
    relay serve         Start the bot and the web dashboard
`)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		ans := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return ans == "y" || ans == "yes"
	}
	return false
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func loadExistingEnv(path string) map[string]string {
	env := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return env
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
		env[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return env
}

func writeEnvFile(path string, env map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.WriteString("# Relay configuration — managed by 'relay init'\n")

	// Write in a stable order: known keys first.
	order := []string{"TELEGRAM_BOT_TOKEN", "GROQ_API_KEY", "OLLAMA_CLOUD_URL", "OLLAMA_API_KEY"}
	written := make(map[string]bool)
	for _, k := range order {
		if v, ok := env[k]; ok && v != "" {
			fmt.Fprintf(w, "%s=%s\n", k, v)
			written[k] = true
		}
	}
	for k, v := range env {
		if !written[k] && v != "" {
			fmt.Fprintf(w, "%s=%s\n", k, v)
		}
	}

	return w.Flush()
}
