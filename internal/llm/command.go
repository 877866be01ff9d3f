package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandClient shells out to a local completion CLI for development. The
// prompt goes in on stdin; images are not forwarded.
type CommandClient struct {
	path string
}

func NewCommandClient(path string) *CommandClient {
	if path == "" {
		path = "claude"
	}
	return &CommandClient{path: path}
}

func (c *CommandClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := []string{"--print", "--output-format", "text", "--max-turns", "1"}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("completion command: %w\nstderr: %s", err, stderr.String())
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil, fmt.Errorf("completion command returned empty response")
	}
	return &Response{Content: text}, nil
}
