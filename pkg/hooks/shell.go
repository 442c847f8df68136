package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandConfig describes an out-of-process hook.
type CommandConfig struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Events  []string `toml:"events"`
	// Matcher is a doublestar pattern tested against the event's "tool"
	// field. Empty matches everything.
	Matcher string `toml:"matcher"`
	// Timeout in seconds. Zero leaves the runner's timeout in charge.
	Timeout int `toml:"timeout"`
}

// CommandHandler runs a shell command per event. The command receives the
// event as JSON on stdin and may print a JSON directive on stdout:
//
//	{"block": true}
//	{"approve": true|false}
//	{"answer": "..."}
//	{"patch": {...}}
//
// Empty stdout means continue.
type CommandHandler struct {
	cfg    CommandConfig
	events map[EventName]bool
}

// commandInput is the stdin document.
type commandInput struct {
	Event      string         `json:"event"`
	TaskID     string         `json:"taskId,omitempty"`
	ProjectDir string         `json:"projectDir,omitempty"`
	Data       map[string]any `json:"data"`
}

// commandOutput is the stdout document.
type commandOutput struct {
	Block   bool           `json:"block,omitempty"`
	Approve *bool          `json:"approve,omitempty"`
	Answer  *string        `json:"answer,omitempty"`
	Patch   map[string]any `json:"patch,omitempty"`
}

// NewCommandHandler validates cfg and builds the handler.
func NewCommandHandler(cfg CommandConfig) (*CommandHandler, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("command hook %q: empty command", cfg.Name)
	}
	if cfg.Matcher != "" && !validPattern(cfg.Matcher) {
		return nil, fmt.Errorf("command hook %q: invalid matcher %q", cfg.Name, cfg.Matcher)
	}
	h := &CommandHandler{cfg: cfg, events: make(map[EventName]bool)}
	for _, e := range cfg.Events {
		h.events[EventName(e)] = true
	}
	if h.cfg.Name == "" {
		h.cfg.Name = cfg.Command
	}
	return h, nil
}

func (h *CommandHandler) Name() string { return h.cfg.Name }

// Handles reports whether the event is subscribed. No events means all.
func (h *CommandHandler) Handles(event EventName) bool {
	return len(h.events) == 0 || h.events[event]
}

func (h *CommandHandler) Handle(ctx context.Context, event Event, hc Context) (Result, error) {
	if !matchTool(h.cfg.Matcher, event.String("tool")) {
		return Continue(nil), nil
	}

	in := commandInput{Event: string(event.Name), Data: event.Data}
	dir := ""
	if hc != nil {
		in.TaskID = hc.TaskID()
		in.ProjectDir = hc.ProjectDir()
		dir = in.ProjectDir
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return Result{}, err
	}

	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.Timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", h.cfg.Command)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("%w: %v: %s", ErrCommandFailed, err, strings.TrimSpace(stderr.String()))
	}

	return parseCommandOutput(event.Name, stdout.Bytes())
}

func parseCommandOutput(event EventName, raw []byte) (Result, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Continue(nil), nil
	}
	var out commandOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse hook output: %w", err)
	}
	switch {
	case out.Block:
		return FromValue(event, false), nil
	case out.Approve != nil:
		return FromValue(event, *out.Approve), nil
	case out.Answer != nil:
		return FromValue(event, *out.Answer), nil
	default:
		return Continue(out.Patch), nil
	}
}

var _ Handler = (*CommandHandler)(nil)
