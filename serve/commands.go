package serve

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	relay "github.com/halden1427/gorelay"
)

// CommandRequest carries one parsed /command invocation.
type CommandRequest struct {
	UserID int64
	Args   []string
	Level  PermLevel
}

// Command is one registered bot command.
type Command struct {
	Name        string
	Description string
	MinLevel    PermLevel
	Run         func(req CommandRequest) string
}

// Commands dispatches /commands with permission checks, lockout
// enforcement, and audit logging.
type Commands struct {
	router  *relay.Router
	tracker *relay.QuotaTracker
	store   Store
	auth    *Auth
	cfg     *relay.Config
	version string

	registry map[string]Command
	order    []string
}

// NewCommands builds the command set over the given components.
func NewCommands(router *relay.Router, tracker *relay.QuotaTracker, store Store, auth *Auth, cfg *relay.Config, version string) *Commands {
	c := &Commands{
		router:   router,
		tracker:  tracker,
		store:    store,
		auth:     auth,
		cfg:      cfg,
		version:  version,
		registry: make(map[string]Command),
	}
	c.registerAll()
	return c
}

func (c *Commands) register(cmd Command) {
	c.registry[cmd.Name] = cmd
	c.order = append(c.order, cmd.Name)
}

func (c *Commands) registerAll() {
	c.register(Command{"start", "greeting and quick intro", PermGuest, c.cmdStart})
	c.register(Command{"help", "list available commands", PermGuest, c.cmdHelp})
	c.register(Command{"status", "backend health overview", PermGuest, c.cmdStatus})
	c.register(Command{"settings", "your current settings", PermGuest, c.cmdSettings})
	c.register(Command{"reset", "clear your conversation history", PermGuest, c.cmdReset})
	c.register(Command{"version", "bot version", PermGuest, c.cmdVersion})

	c.register(Command{"provider", "show the backend serving you", PermUser, c.cmdProvider})
	c.register(Command{"switch", "pin your chats to a backend", PermUser, c.cmdSwitch})
	c.register(Command{"models", "list models per backend", PermUser, c.cmdModels})
	c.register(Command{"tokens", "request/token usage this minute", PermUser, c.cmdTokens})
	c.register(Command{"quota", "usage fractions and reset times", PermUser, c.cmdQuota})

	c.register(Command{"setmodel", "switch a backend's model", PermAdmin, c.cmdSetModel})
	c.register(Command{"providers", "detailed backend status", PermAdmin, c.cmdProviders})
	c.register(Command{"limits", "configured rate limits", PermAdmin, c.cmdLimits})
	c.register(Command{"reload", "reload backends + permissions config", PermAdmin, c.cmdReload})
	c.register(Command{"sysinfo", "host and process stats", PermAdmin, c.cmdSysinfo})
}

// Dispatch resolves permissions and runs the named command, returning the
// reply text. Every outcome other than a clean guest-level success is
// audited.
func (c *Commands) Dispatch(userID int64, name string, args []string) string {
	if remaining, locked := c.auth.LockedOut(userID); locked {
		return fmt.Sprintf("You are locked out. Try again in %s.", remaining.Round(time.Second))
	}

	level, ok := c.auth.Level(userID)
	if !ok {
		if c.auth.RecordFailure(userID) {
			c.audit(userID, "lockout", "/"+name)
			slog.Warn("user locked out", "user", userID)
			return "Too many unauthorized attempts. You are locked out."
		}
		c.audit(userID, "denied", "/"+name)
		return "You are not authorized to use this bot."
	}

	cmd, found := c.registry[name]
	if !found {
		return "Unknown command. Try /help."
	}

	if level < cmd.MinLevel {
		if c.auth.RecordFailure(userID) {
			c.audit(userID, "lockout", "/"+name)
			slog.Warn("user locked out", "user", userID)
			return "Too many unauthorized attempts. You are locked out."
		}
		c.audit(userID, "denied", "/"+name)
		return fmt.Sprintf("/%s requires %s access.", name, cmd.MinLevel)
	}

	c.auth.ResetFailures(userID)
	if cmd.MinLevel >= PermAdmin {
		c.audit(userID, "command", "/"+name+" "+strings.Join(args, " "))
	}

	return cmd.Run(CommandRequest{UserID: userID, Args: args, Level: level})
}

func (c *Commands) audit(userID int64, action, detail string) {
	err := c.store.InsertAuditEvent(AuditEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Detail:    strings.TrimSpace(detail),
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("audit insert failed", "action", action, "error", err)
	}
}

func (c *Commands) cmdStart(req CommandRequest) string {
	return fmt.Sprintf("Hi! I'm %s. Send me a message and I'll answer with whichever LLM backend is available. Try /help for commands.", c.cfg.Bot.BotName)
}

func (c *Commands) cmdHelp(req CommandRequest) string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, name := range c.order {
		cmd := c.registry[name]
		if req.Level < cmd.MinLevel {
			continue
		}
		fmt.Fprintf(&sb, "/%s — %s\n", cmd.Name, cmd.Description)
	}
	return sb.String()
}

func (c *Commands) cmdStatus(req CommandRequest) string {
	status := c.router.Status()
	active := c.router.ActiveBackend()

	var sb strings.Builder
	sb.WriteString("Backends:\n")
	for _, name := range c.router.Backends() {
		st := status[name]
		mark := "down"
		if st.IsHealthy {
			mark = "up"
		}
		fmt.Fprintf(&sb, "%s: %s", name, mark)
		if name == active {
			sb.WriteString(" (active)")
		}
		if st.LatencyMs > 0 {
			fmt.Fprintf(&sb, ", %.0fms", st.LatencyMs)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (c *Commands) cmdSettings(req CommandRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Access level: %s\n", req.Level)
	if pref, ok := c.router.Preference(req.UserID); ok {
		fmt.Fprintf(&sb, "Pinned backend: %s\n", pref)
	} else {
		fmt.Fprintf(&sb, "Pinned backend: none (priority order)\n")
	}
	fmt.Fprintf(&sb, "Context window: %d messages\n", c.cfg.Bot.MaxContextMessages)
	return sb.String()
}

func (c *Commands) cmdReset(req CommandRequest) string {
	if err := c.store.ClearChatHistory(req.UserID); err != nil {
		slog.Warn("clear history failed", "user", req.UserID, "error", err)
		return "Could not clear your history, try again."
	}
	return "Conversation history cleared."
}

func (c *Commands) cmdVersion(req CommandRequest) string {
	return fmt.Sprintf("%s %s", c.cfg.Bot.BotName, c.version)
}

func (c *Commands) cmdProvider(req CommandRequest) string {
	b := c.router.SelectBackend(req.UserID)
	if b == nil {
		return "No backend is currently available."
	}
	return fmt.Sprintf("Your requests go to %s (model %s).", b.Name(), b.CurrentModel())
}

func (c *Commands) cmdSwitch(req CommandRequest) string {
	if len(req.Args) == 0 {
		avail := c.router.AvailableBackends()
		if len(avail) == 0 {
			return "No backend is currently available."
		}
		return "Usage: /switch <backend>. Available: " + strings.Join(avail, ", ") + ". Use /switch auto to unpin."
	}

	name := req.Args[0]
	if name == "auto" {
		c.router.ClearPreference(req.UserID)
		return "Preference cleared, back to priority order."
	}
	if !c.router.SetPreference(req.UserID, name) {
		return fmt.Sprintf("Unknown backend %q. Available: %s", name, strings.Join(c.router.Backends(), ", "))
	}
	return fmt.Sprintf("Your chats are now pinned to %s.", name)
}

func (c *Commands) cmdModels(req CommandRequest) string {
	models := c.router.Models()

	var sb strings.Builder
	for _, name := range c.router.Backends() {
		info := models[name]
		fmt.Fprintf(&sb, "%s (current: %s)\n", name, info.Current)
		for _, m := range info.Models {
			fmt.Fprintf(&sb, "  %s\n", m)
		}
	}
	if sb.Len() == 0 {
		return "No backends registered."
	}
	return sb.String()
}

func (c *Commands) cmdSetModel(req CommandRequest) string {
	if len(req.Args) < 2 {
		return "Usage: /setmodel <backend> <model>"
	}
	backend, model := req.Args[0], req.Args[1]
	if !c.router.SetBackendModel(backend, model) {
		return fmt.Sprintf("Could not set %q on %s. Check /models for valid names.", model, backend)
	}
	return fmt.Sprintf("%s now uses %s.", backend, model)
}

func (c *Commands) cmdTokens(req CommandRequest) string {
	var sb strings.Builder
	sb.WriteString("Usage this minute:\n")
	for _, name := range c.router.Backends() {
		requests, tokens := c.tracker.Usage(name)
		fmt.Fprintf(&sb, "%s: %d requests, %d tokens\n", name, requests, tokens)
	}
	return sb.String()
}

func (c *Commands) cmdQuota(req CommandRequest) string {
	var sb strings.Builder
	for _, name := range c.router.Backends() {
		f := c.tracker.UsageFraction(name)
		fmt.Fprintf(&sb, "%s: %.0f%% requests, %.0f%% tokens", name, f.Requests*100, f.Tokens*100)
		if reset := c.tracker.TimeUntilReset(name); reset > 0 {
			fmt.Fprintf(&sb, " (resets in %s)", reset.Round(time.Second))
		}
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "No backends registered."
	}
	return sb.String()
}

func (c *Commands) cmdProviders(req CommandRequest) string {
	status := c.router.Status()

	var sb strings.Builder
	for _, name := range c.router.Backends() {
		st := status[name]
		fmt.Fprintf(&sb, "%s: healthy=%v errors=%d", name, st.IsHealthy, st.ErrorCount)
		if st.LastError != "" {
			fmt.Fprintf(&sb, " last_error=%q", st.LastError)
		}
		if st.LastCheck != nil {
			fmt.Fprintf(&sb, " checked=%s ago", time.Since(*st.LastCheck).Round(time.Second))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (c *Commands) cmdLimits(req CommandRequest) string {
	limits := c.tracker.Limits()
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		l := limits[name]
		fmt.Fprintf(&sb, "%s: %s rpm, %s tpm\n", name, limitString(l.RequestsPerMinute), limitString(l.TokensPerMinute))
	}
	if sb.Len() == 0 {
		return "No limits configured."
	}
	return sb.String()
}

func limitString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func (c *Commands) cmdReload(req CommandRequest) string {
	if err := c.cfg.Reload(); err != nil {
		return "Reload failed: " + err.Error()
	}
	for name, limit := range c.cfg.RateLimits() {
		c.tracker.SetLimit(name, limit)
	}
	c.auth.Update(c.cfg.Permissions)
	slog.Info("config reloaded", "user", req.UserID)
	return "Backends and permissions reloaded."
}
