// Package sandbox runs untrusted Python snippets in short-lived Docker
// containers with no network and tight resource limits.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

const (
	// DefaultImage is the interpreter image used for snippets.
	DefaultImage = "python:3.12-slim"

	labelManagedBy  = "relay.managed-by"
	containerPrefix = "relay-py-"

	maxOutputBytes = 16 * 1024
)

// Sandbox creates a fresh container per snippet and removes it after
// the run. Snippets share nothing with each other or the host.
type Sandbox struct {
	client  *client.Client
	image   string
	timeout time.Duration

	mu        sync.Mutex
	available bool
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithImage sets the interpreter image.
func WithImage(img string) Option {
	return func(s *Sandbox) { s.image = img }
}

// WithTimeout caps how long a snippet may run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.timeout = d }
}

// New creates a Sandbox. When no Docker daemon is reachable the
// Sandbox is returned with Available() == false and RunPython fails.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		image:   DefaultImage,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	cli, err := connectDocker()
	if err != nil {
		return s
	}
	s.client = cli
	s.available = true
	return s
}

// connectDocker tries the environment settings first, then the common
// socket locations used by Docker Desktop and Colima.
func connectDocker() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix:///var/run/docker.sock",
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock",
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

// Available reports whether a Docker daemon was reachable at startup.
func (s *Sandbox) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// RunPython executes code with the container's python interpreter and
// returns combined stdout and stderr. A non-zero exit still returns
// the output so tracebacks reach the user, alongside an error.
func (s *Sandbox) RunPython(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	ok := s.available
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("docker not available")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ensureImage(ctx); err != nil {
		return "", fmt.Errorf("pull %s: %w", s.image, err)
	}

	name := containerPrefix + uuid.NewString()[:8]

	containerCfg := &container.Config{
		Image:           s.image,
		Cmd:             []string{"python", "-c", code},
		User:            "nobody",
		NetworkDisabled: true,
		Labels: map[string]string{
			labelManagedBy: "gorelay",
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:    128 * 1024 * 1024,
			NanoCPUs:  500_000_000, // half a core
			PidsLimit: pidsLimit(64),
		},
	}

	resp, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	defer s.remove(resp.ID)

	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	exitCode, waitErr := s.wait(ctx, resp.ID)

	output, logErr := s.logs(ctx, resp.ID)
	if waitErr != nil {
		return output, waitErr
	}
	if logErr != nil {
		return "", fmt.Errorf("read output: %w", logErr)
	}
	if exitCode != 0 {
		return output, fmt.Errorf("exit status %d", exitCode)
	}
	return output, nil
}

func (s *Sandbox) wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := s.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return 0, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, fmt.Errorf("snippet timed out after %s", s.timeout)
		}
		return 0, fmt.Errorf("container wait: %w", err)
	}
}

func (s *Sandbox) logs(ctx context.Context, id string) (string, error) {
	reader, err := s.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var out strings.Builder
	limited := io.LimitReader(reader, maxOutputBytes)
	if _, err := stdcopy.StdCopy(&out, &out, limited); err != nil && err != io.EOF {
		return "", err
	}
	return out.String(), nil
}

// remove deletes the container on a fresh context so cleanup survives
// a timed-out run context.
func (s *Sandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (s *Sandbox) ensureImage(ctx context.Context) error {
	_, _, err := s.client.ImageInspectWithRaw(ctx, s.image)
	if err == nil {
		return nil
	}

	reader, err := s.client.ImagePull(ctx, s.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close closes the Docker client.
func (s *Sandbox) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func pidsLimit(n int64) *int64 { return &n }
