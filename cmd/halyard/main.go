// ABOUTME: Entry point for the halyard session coordinator CLI
// ABOUTME: Manages concurrent agent chat sessions from the terminal

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/halyard-dev/halyard/internal/chat"
	"github.com/halyard-dev/halyard/internal/config"
	"github.com/halyard-dev/halyard/internal/engine"
	"github.com/halyard-dev/halyard/internal/notify"
	"github.com/halyard-dev/halyard/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _           _                       _
 | |__   __ _| |_   _  __ _ _ __ __| |
 | '_ \ / _' | | | | |/ _' | '__/ _' |
 | | | | (_| | | |_| | (_| | | | (_| |
 |_| |_|\__,_|_|\__, |\__,_|_|  \__,_|
                |___/
`

// getConfigPath returns the path to the halyard config file.
// Priority: HALYARD_CONFIG env var > XDG_CONFIG_HOME/halyard/config.yaml > ~/.config/halyard/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HALYARD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "halyard", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: halyard <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  sessions               List sessions")
		fmt.Println("  new [name]             Create a session")
		fmt.Println("  rm <session-id>        Delete a session")
		fmt.Println("  chat <session-id>      Open an interactive chat")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "sessions":
		err = runSessions(ctx)
	case "new":
		err = runNew(ctx)
	case "rm":
		err = runRemove(ctx)
	case "chat":
		err = runChat(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// buildCoordinator wires the full pipeline from configuration.
func buildCoordinator(cfg *config.Config, logger *slog.Logger) (*chat.Coordinator, store.Store, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	workDir := cfg.Engine.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	eng, err := engine.NewCLIEngine(engine.CLIConfig{
		Command:     cfg.Engine.Command,
		WorkDir:     workDir,
		IdleTimeout: cfg.Engine.IdleTimeout,
	}, logger)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("building engine: %w", err)
	}

	coord := chat.NewCoordinator(eng, st, chat.Options{
		WorkDir: workDir,
		Defaults: chat.Defaults{
			Model:         cfg.Defaults.Model,
			Provider:      cfg.Defaults.Provider,
			Backend:       cfg.Defaults.Backend,
			ExecutionMode: cfg.Defaults.ExecutionMode,
			ThinkingLevel: cfg.Defaults.ThinkingLevel,
			EffortLevel:   cfg.Defaults.EffortLevel,
		},
		SuppressThinkingOutsidePlan: true,
		Logger:                      logger,
	})
	return coord, st, nil
}

func runSessions(ctx context.Context) error {
	cfg := loadConfig()
	logger := setupLogger(cfg.Logging)
	coord, st, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer coord.Close()

	sessions, err := coord.ListSessions(ctx, "")
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, s := range sessions {
		fmt.Printf("%s  %-20s mode=%-5s status=%s\n",
			s.ID, s.Name, s.ExecutionMode, s.LastRunStatus)
		gray.Printf("    created %s\n", s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runNew(ctx context.Context) error {
	cfg := loadConfig()
	logger := setupLogger(cfg.Logging)
	coord, st, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer coord.Close()

	name := "untitled"
	if len(os.Args) > 2 {
		name = strings.Join(os.Args[2:], " ")
	}

	workDir := cfg.Engine.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	sess, err := coord.CreateSession(ctx, workDir, name)
	if err != nil {
		return err
	}
	fmt.Printf("Created session %s (%s)\n", sess.ID, sess.Name)
	return nil
}

func runRemove(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: halyard rm <session-id>")
	}
	cfg := loadConfig()
	logger := setupLogger(cfg.Logging)
	coord, st, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer coord.Close()

	return coord.DeleteSession(ctx, os.Args[2])
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runChat(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: halyard chat <session-id>")
	}
	sessionID := os.Args[2]

	cfg := loadConfig()
	logger := setupLogger(cfg.Logging)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	coord, st, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer coord.Close()

	if _, err := st.GetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	updates, _ := coord.Subscribe(ctx, sessionID)
	go watchUpdates(ctx, coord, sessionID, updates)

	gray.Println("Type a message, or /help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.GreenString("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := handleLine(ctx, coord, sessionID, line); err != nil {
			color.Red("error: %v", err)
		}
	}
}

// watchUpdates prints session transitions and finished run content.
func watchUpdates(ctx context.Context, coord *chat.Coordinator, sessionID string, updates <-chan notify.Update) {
	wasSending := false
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if wasSending && !u.Sending {
				if text := coord.Assembler().Text(sessionID); text != "" {
					fmt.Printf("\n%s\n", text)
				}
				if u.PendingApproval != "" {
					color.Yellow("awaiting %s approval", u.PendingApproval)
				}
			}
			wasSending = u.Sending
		}
	}
}

func handleLine(ctx context.Context, coord *chat.Coordinator, sessionID, line string) error {
	if !strings.HasPrefix(line, "/") {
		res, err := coord.Submit(ctx, sessionID, line, nil)
		if err != nil {
			return err
		}
		if res.Queued {
			color.Yellow("queued (%d waiting)", coord.Queue().Len(sessionID))
		}
		return nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Println(`/cancel                 interrupt the current run
/approve [plan text]    approve the pending plan (build mode)
/yolo [plan text]       approve the pending plan (yolo mode)
/allow <tool-call-id>   approve a blocked tool once
/allow-run <id>         approve a blocked tool for the rest of the run
/deny <tool-call-id>    deny a blocked tool
/answer <id> <json>     answer the pending question
/skip                   skip the pending question
/mode <build|plan|yolo> change the session's execution mode
/queue                  show queued messages
/quit                   exit`)
		return nil
	case "/cancel":
		return coord.Cancel(ctx, sessionID)
	case "/approve":
		return coord.ApprovePlan(ctx, sessionID, strings.Join(fields[1:], " "))
	case "/yolo":
		return coord.ApprovePlanYolo(ctx, sessionID, strings.Join(fields[1:], " "))
	case "/allow":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /allow <tool-call-id>")
		}
		return coord.ApprovePermission(ctx, sessionID, fields[1])
	case "/allow-run":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /allow-run <tool-call-id>")
		}
		return coord.ApprovePermissionForRun(ctx, sessionID, fields[1])
	case "/deny":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /deny <tool-call-id>")
		}
		return coord.DenyPermission(ctx, sessionID, fields[1])
	case "/answer":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /answer <tool-call-id> <json>")
		}
		raw := strings.Join(fields[2:], " ")
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("answer must be valid JSON")
		}
		return coord.AnswerQuestion(ctx, sessionID, fields[1], json.RawMessage(raw))
	case "/skip":
		return coord.SkipQuestion(ctx, sessionID)
	case "/mode":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /mode <build|plan|yolo>")
		}
		return coord.SetSessionExecutionMode(ctx, sessionID, fields[1])
	case "/queue":
		for i, m := range coord.Queue().List(sessionID) {
			fmt.Printf("%d. [%s] %s\n", i+1, m.ID, m.Text)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}
