// ABOUTME: Minimal fake engine for end-to-end testing — reads a prompt from stdin,
// ABOUTME: emits scripted NDJSON events on stdout. Usable as halyard's engine.command.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type event struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Denials json.RawMessage `json:"denials,omitempty"`
}

func main() {
	// Accept (and mostly ignore) the flags a real engine CLI would get.
	permMode := flag.String("permission-mode", "", "permission mode")
	flag.String("model", "", "model")
	var allowed, mcp multiFlag
	flag.Var(&allowed, "allowed-tools", "allowed tool")
	flag.Var(&mcp, "mcp-server", "mcp server")
	deny := flag.String("deny", "", "emit a permission denial for this tool name")
	delay := flag.Duration("delay", 10*time.Millisecond, "delay between events")
	flag.Parse()

	prompt, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading prompt: %v\n", err)
		os.Exit(1)
	}

	emit := func(ev event) {
		data, _ := json.Marshal(ev)
		fmt.Println(string(data))
		time.Sleep(*delay)
	}

	switch {
	case *permMode == "plan":
		emit(event{Type: "thinking_delta", Text: "Sketching a plan."})
		plan := fmt.Sprintf("# Plan\n\n1. Address: %s\n", strings.TrimSpace(string(prompt)))
		input, _ := json.Marshal(map[string]string{"plan": plan})
		emit(event{Type: "tool_call_start", ID: "fake-plan-1", Name: "ExitPlanMode", Input: input})

	case *deny != "" && !contains(allowed, *deny):
		denials, _ := json.Marshal([]map[string]string{{
			"tool_use_id": "fake-deny-1",
			"tool_name":   *deny,
		}})
		emit(event{Type: "permission_denied", Denials: denials})

	default:
		for _, word := range strings.Fields("you said: " + string(prompt)) {
			emit(event{Type: "text_delta", Text: word + " "})
		}
		emit(event{Type: "tool_call_start", ID: "fake-tool-1", Name: "Bash",
			Input: json.RawMessage(`{"command":"true"}`)})
		emit(event{Type: "tool_call_result", ID: "fake-tool-1", Output: "ok"})
	}

	emit(event{Type: "done"})
}

func contains(values []string, v string) bool {
	for _, x := range values {
		for _, part := range strings.Split(x, ",") {
			if part == v {
				return true
			}
		}
	}
	return false
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }
