package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeoutMs is the default subprocess timeout per spec §4.1.
const DefaultCommandTimeoutMs = 15_000

// Command embeds text by spawning a subprocess configured by path/args.
// The path and args come from configuration only, never from caller input.
type Command struct {
	Path      string
	Args      []string
	Model     string
	TimeoutMs int
}

// NewCommand returns a Command provider. timeoutMs <= 0 uses the default.
func NewCommand(path string, args []string, model string, timeoutMs int) *Command {
	if timeoutMs <= 0 {
		timeoutMs = DefaultCommandTimeoutMs
	}
	return &Command{Path: path, Args: args, Model: model, TimeoutMs: timeoutMs}
}

type commandPayload struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// commandResponse accepts either a bare array or {"embedding": [...]}.
type commandResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed spawns the configured subprocess, writes a JSON payload to its stdin,
// enforces TimeoutMs by terminating the process, and parses stdout.
func (c *Command) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutMs)*time.Millisecond)
	defer cancel()

	payload, err := json.Marshal(commandPayload{Text: text, Model: c.Model, Dimensions: dimensions})
	if err != nil {
		return nil, fmt.Errorf("command embed: marshal payload: %w", err)
	}

	// #nosec G204 -- Path and Args originate from configuration only, never from caller input.
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	if err := cmd.Run(); err != nil {
		snippet := truncateBytes(stderr.Bytes(), 500)
		return nil, fmt.Errorf("command embed: %w: %s", err, snippet)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	var vec []float32
	if err := json.Unmarshal(out, &vec); err == nil && len(vec) > 0 {
		return vec, nil
	}
	var resp commandResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("command embed: unparseable output: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("command embed: empty embedding returned")
	}
	return resp.Embedding, nil
}

func truncateBytes(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
