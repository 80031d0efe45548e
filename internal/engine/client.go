package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Client drives the analyzer CLI inside its container.
type Client struct {
	Runner        Runner
	ContainerName string
	Bin           string
	WorkDir       string
	Timeout       time.Duration
}

func NewClient(r Runner, containerName string) *Client {
	return &Client{
		Runner:        r,
		ContainerName: containerName,
		Bin:           "uxlens-analyzer",
		Timeout:       10 * time.Minute,
	}
}

// AnalyzeRequest is one analyzer invocation. Config is piped to the CLI on stdin.
type AnalyzeRequest struct {
	Type   string
	URL    string
	Config json.RawMessage
}

// AnalyzeOutput is the analyzer's stdout document.
type AnalyzeOutput struct {
	Score   *int            `json:"score"`
	Results json.RawMessage `json:"results"`
}

func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeOutput, error) {
	cfg := req.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	cmd := []string{c.Bin, "analyze", "--type", req.Type, "--url", req.URL, "--config", "-"}

	res, err := c.Runner.Exec(ctx, c.ContainerName, cmd,
		WithWorkDir(c.WorkDir),
		WithStdin(bytes.NewReader(cfg)),
		WithTimeout(c.Timeout),
	)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("analyze failed (%d): %s", res.ExitCode, res.Output())
	}

	var out AnalyzeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("decode analyzer output: %w", err)
	}
	if out.Score == nil {
		return nil, fmt.Errorf("analyzer output has no score")
	}
	return &out, nil
}
