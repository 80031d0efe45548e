// Package engine talks to the analyzer container over the Docker API.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r *ExecResult) Output() string {
	return r.Stdout + r.Stderr
}

type execOptions struct {
	Env     []string
	WorkDir string
	Stdin   io.Reader
	Timeout time.Duration
}

type ExecOpt func(*execOptions)

func WithEnv(env ...string) ExecOpt {
	return func(o *execOptions) { o.Env = append(o.Env, env...) }
}

func WithWorkDir(dir string) ExecOpt {
	return func(o *execOptions) { o.WorkDir = dir }
}

func WithStdin(r io.Reader) ExecOpt {
	return func(o *execOptions) { o.Stdin = r }
}

func WithTimeout(d time.Duration) ExecOpt {
	return func(o *execOptions) { o.Timeout = d }
}

// Runner executes commands inside a long-running container.
type Runner interface {
	Exec(ctx context.Context, containerName string, cmd []string, opts ...ExecOpt) (*ExecResult, error)
}

type dockerRunner struct {
	cli *client.Client
}

func NewDockerRunner(cli *client.Client) Runner {
	return &dockerRunner{cli: cli}
}

func (d *dockerRunner) Exec(ctx context.Context, containerName string, cmd []string, opts ...ExecOpt) (*ExecResult, error) {
	o := &execOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	created, err := d.cli.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  o.Stdin != nil,
		Env:          o.Env,
		WorkingDir:   o.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	if o.Stdin != nil {
		go func() {
			io.Copy(attach.Conn, o.Stdin)
			attach.CloseWrite()
		}()
	}

	var outBuf, errBuf bytes.Buffer
	outputDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, attach.Reader)
		outputDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err = <-outputDone:
		if err != nil {
			return nil, fmt.Errorf("exec stream: %w", err)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}
