// ABOUTME: CLIEngine drives an agent CLI subprocess per run and streams its NDJSON output.
// ABOUTME: Cancellation kills the subprocess; the caller decides what to do with partial output.

package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// eventBuffer matches the per-request channel depth used for agent streams.
	eventBuffer = 16

	// maxLineBytes bounds a single NDJSON line. Tool results can carry large
	// outputs, so this is generous.
	maxLineBytes = 4 * 1024 * 1024
)

// CLIConfig configures the engine subprocess.
type CLIConfig struct {
	// Command is the program plus fixed arguments, e.g.
	// ["claude", "-p", "--output-format", "stream-json"].
	Command []string

	// WorkDir is the working directory for spawned processes.
	WorkDir string

	// IdleTimeout kills a run whose process produces no output for this
	// long; the run ends with an error event. Zero disables the watchdog.
	IdleTimeout time.Duration
}

// CLIEngine implements Engine by spawning one subprocess per run.
type CLIEngine struct {
	cfg    CLIConfig
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd // sessionID -> in-flight process
}

// NewCLIEngine creates a CLIEngine. Pass nil logger for the default.
func NewCLIEngine(cfg CLIConfig, logger *slog.Logger) (*CLIEngine, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("engine command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIEngine{
		cfg:     cfg,
		logger:  logger.With("component", "engine"),
		running: make(map[string]*exec.Cmd),
	}, nil
}

// permissionMode maps a halyard execution mode to the CLI permission mode.
func permissionMode(executionMode string) string {
	switch executionMode {
	case "plan":
		return "plan"
	case "yolo":
		return "bypassPermissions"
	default:
		return "default"
	}
}

// buildArgs assembles the subprocess argument list from the run config.
func (e *CLIEngine) buildArgs(cfg SendConfig) []string {
	args := append([]string{}, e.cfg.Command[1:]...)
	args = append(args, "--permission-mode", permissionMode(cfg.ExecutionMode))
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(cfg.AllowedTools, ","))
	}
	for _, server := range cfg.MCPServers {
		args = append(args, "--mcp-server", server)
	}
	return args
}

// Send spawns the subprocess for one run and returns its event stream.
// The channel is closed after a terminal event. Returns ErrEngineBusy if a
// run is already in flight for the session.
func (e *CLIEngine) Send(ctx context.Context, req *SendRequest) (<-chan *Event, error) {
	cmd := exec.CommandContext(ctx, e.cfg.Command[0], e.buildArgs(req.Config)...) //nolint:gosec
	cmd.Dir = e.cfg.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	e.mu.Lock()
	if _, exists := e.running[req.SessionID]; exists {
		e.mu.Unlock()
		return nil, ErrEngineBusy
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("starting engine process: %w", err)
	}
	e.running[req.SessionID] = cmd
	e.mu.Unlock()

	e.logger.Debug("engine process started",
		"session_id", req.SessionID,
		"mode", req.Config.ExecutionMode,
		"pid", cmd.Process.Pid,
	)

	out := make(chan *Event, eventBuffer)
	go e.stream(req.SessionID, cmd, stdout, out)
	return out, nil
}

// stream reads NDJSON lines until a terminal event or EOF, then reaps the process.
func (e *CLIEngine) stream(sessionID string, cmd *exec.Cmd, stdout io.Reader, out chan<- *Event) {
	defer close(out)
	defer func() {
		waitErr := cmd.Wait()
		e.mu.Lock()
		delete(e.running, sessionID)
		e.mu.Unlock()
		if waitErr != nil {
			e.logger.Debug("engine process exited", "session_id", sessionID, "error", waitErr)
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	// The watchdog kills a stalled process; each line of output rearms it.
	var timedOut atomic.Bool
	var watchdog *time.Timer
	if e.cfg.IdleTimeout > 0 {
		watchdog = time.AfterFunc(e.cfg.IdleTimeout, func() {
			timedOut.Store(true)
			if err := cmd.Process.Kill(); err != nil {
				e.logger.Warn("killing stalled engine process", "session_id", sessionID, "error", err)
			}
		})
		defer watchdog.Stop()
	}

	sawTerminal := false
	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(e.cfg.IdleTimeout)
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			// One bad line never aborts the run.
			e.logger.Warn("unparseable engine event",
				"session_id", sessionID,
				"error", err,
			)
			continue
		}
		out <- ev
		if ev.Terminal() {
			sawTerminal = true
			break
		}
	}

	if timedOut.Load() && !sawTerminal {
		out <- &Event{Kind: KindError, ErrorMsg: fmt.Sprintf("engine produced no output for %s", e.cfg.IdleTimeout)}
		return
	}
	if err := scanner.Err(); err != nil && !sawTerminal {
		out <- &Event{Kind: KindError, ErrorMsg: fmt.Sprintf("reading engine output: %v", err)}
		return
	}
	if !sawTerminal {
		// Process closed its output without a terminal event (killed, crashed,
		// or a non-streaming exit). Close out the run so the session can recover.
		out <- &Event{Kind: KindDone}
	}
}

// Cancel kills the in-flight process for the session, if any.
// Returns true iff a running process was actually interrupted.
func (e *CLIEngine) Cancel(sessionID string) bool {
	e.mu.Lock()
	cmd, ok := e.running[sessionID]
	e.mu.Unlock()

	if !ok {
		return false
	}
	if err := cmd.Process.Kill(); err != nil {
		e.logger.Warn("killing engine process", "session_id", sessionID, "error", err)
		return false
	}
	e.logger.Debug("engine process killed", "session_id", sessionID)
	return true
}

// Running reports whether a run is in flight for the session.
func (e *CLIEngine) Running(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[sessionID]
	return ok
}

var _ Engine = (*CLIEngine)(nil)
