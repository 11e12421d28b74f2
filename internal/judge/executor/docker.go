package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	pkgerrors "codebattle/pkg/errors"
	"codebattle/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	sandboxWorkdir   = "/home/sandbox"
	sandboxPidsLimit = 64
	defaultMemoryMB  = 256
)

// DockerExecutor runs user code inside a fresh hardened container per
// execution: no network, dropped capabilities, no-new-privileges, pids
// limit and a tmpfs workdir. The container is force-removed on every path.
type DockerExecutor struct {
	cli      *client.Client
	registry *Registry
}

// NewDockerExecutor creates a docker-backed executor from the environment.
func NewDockerExecutor(registry *Registry) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &DockerExecutor{cli: cli, registry: registry}, nil
}

// EnsureImages pulls every registry image that is not present locally.
func (e *DockerExecutor) EnsureImages(ctx context.Context) error {
	for _, name := range e.registry.Names() {
		lang, _ := e.registry.Lookup(name)
		if _, _, err := e.cli.ImageInspectWithRaw(ctx, lang.Image); err == nil {
			continue
		}
		logger.Info(ctx, "pulling sandbox image", zap.String("image", lang.Image))
		reader, err := e.cli.ImagePull(ctx, lang.Image, image.PullOptions{})
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.SandboxUnavailable, "pull image %s", lang.Image)
		}
		// The pull only completes once the progress stream is drained.
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}
	return nil
}

// Execute runs source against stdin inside a throwaway container.
func (e *DockerExecutor) Execute(ctx context.Context, language, source, stdin string, limits Limits) (*ExecResult, error) {
	lang, ok := e.registry.Lookup(language)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q not supported", language)
	}

	memoryMB := limits.MemoryMB
	if memoryMB <= 0 {
		memoryMB = defaultMemoryMB
	}
	pidsLimit := int64(sandboxPidsLimit)
	memoryBytes := memoryMB << 20

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:           lang.Image,
		Cmd:             []string{"sleep", "infinity"},
		NetworkDisabled: true,
		WorkingDir:      sandboxWorkdir,
		User:            "nobody",
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     memoryBytes,
			MemorySwap: memoryBytes,
			CPUQuota:   100000,
			PidsLimit:  &pidsLimit,
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			sandboxWorkdir: "rw,exec,nosuid,size=64m,mode=1777",
			"/tmp":         "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}, nil, nil, "")
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	defer func() {
		_ = e.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}

	if err := e.writeSource(ctx, resp.ID, lang.SourceFile, source); err != nil {
		return nil, err
	}

	if lang.Compiled() {
		args, err := lang.CompileArgs(sandboxWorkdir)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
		}
		out, err := e.execInContainer(ctx, resp.ID, args, "", 0)
		if err != nil {
			return nil, err
		}
		if out.ExitCode != 0 {
			out.CompileFailed = true
			out.Stdout = ""
			return out, nil
		}
	}

	args, err := lang.RunArgs(sandboxWorkdir)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	timeout := time.Duration(limits.TimeMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return e.execInContainer(ctx, resp.ID, args, stdin, timeout)
}

// writeSource streams the source into the tmpfs workdir via exec; the
// docker copy API cannot write into tmpfs mounts.
func (e *DockerExecutor) writeSource(ctx context.Context, containerID, fileName, source string) error {
	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:         []string{"sh", "-c", fmt.Sprintf("cat > %s/%s", sandboxWorkdir, fileName)},
		AttachStdin: true,
	})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	if _, err := attach.Conn.Write([]byte(source)); err != nil {
		attach.Close()
		return pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	_ = attach.CloseWrite()
	attach.Close()

	for {
		inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
		}
		if !inspect.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return pkgerrors.Wrap(ctx.Err(), pkgerrors.SandboxUnavailable)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// execInContainer runs one command inside the container. A non-zero
// timeout bounds the run and maps expiry to TimeoutExitCode.
func (e *DockerExecutor) execInContainer(ctx context.Context, containerID string, args []string, stdin string, timeout time.Duration) (*ExecResult, error) {
	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          args,
		WorkingDir:   sandboxWorkdir,
		AttachStdin:  stdin != "",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	defer attach.Close()

	if stdin != "" {
		_, _ = attach.Conn.Write([]byte(stdin))
		_ = attach.CloseWrite()
	}

	// The copier owns its buffers; callers only ever see the snapshot
	// it hands back, so the timeout path cannot race the copy.
	type execOutput struct {
		stdout string
		stderr string
		err    error
	}
	done := make(chan execOutput, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- execOutput{stdout: stdout.String(), stderr: stderr.String(), err: copyErr}
	}()

	start := time.Now()
	var out execOutput
	select {
	case out = <-done:
		if out.err != nil {
			return nil, pkgerrors.Wrap(out.err, pkgerrors.SandboxUnavailable)
		}
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			// Closing the attachment unblocks the copier; wait for it
			// before reading the partial output.
			attach.Close()
			out = <-done
			return &ExecResult{
				Stdout:   truncate(out.stdout),
				Stderr:   truncate(out.stderr),
				ExitCode: TimeoutExitCode,
				TimeMs:   time.Since(start).Milliseconds(),
			}, nil
		}
		return nil, pkgerrors.Wrap(execCtx.Err(), pkgerrors.SandboxUnavailable)
	}
	elapsed := time.Since(start).Milliseconds()

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	return &ExecResult{
		Stdout:   truncate(out.stdout),
		Stderr:   truncate(out.stderr),
		ExitCode: inspect.ExitCode,
		TimeMs:   elapsed,
	}, nil
}

var _ Executor = (*DockerExecutor)(nil)
var _ Executor = (*ProcessExecutor)(nil)
