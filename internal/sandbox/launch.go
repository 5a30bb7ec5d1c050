package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/pincersec/pincer/internal/logging"
)

// launchSpec is everything needed to bring one sandbox up.
type launchSpec struct {
	Tool       string
	Image      string
	Privileged bool
	// Network is the literal value for --network: "host", "none", or
	// "container:<name>" to join a service sandbox's namespace.
	Network string
	// ContainerName names the container so service members can be joined
	// by other sandboxes.
	ContainerName string
	// Endpoint, when set, is a loopback URL of an already-running local
	// service; no container is launched.
	Endpoint string
}

// launcher brings sandboxes up. The production implementation shells out
// to a container runtime; tests inject fakes.
type launcher interface {
	Launch(ctx context.Context, spec launchSpec) (Client, error)
}

// runtimeLauncher launches sandboxes with docker or podman and connects
// an MCP session over the spawned process's stdio.
type runtimeLauncher struct {
	requested string // configured runtime: docker|podman|auto
	log       zerolog.Logger

	mu       sync.Mutex
	resolved string // detected binary path, cached after first launch
}

func newRuntimeLauncher(requested string) *runtimeLauncher {
	return &runtimeLauncher{
		requested: requested,
		log:       logging.Component("sandbox"),
	}
}

func (l *runtimeLauncher) Launch(ctx context.Context, spec launchSpec) (Client, error) {
	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "pincer",
		Version: "1.0.0",
	}, nil)

	if spec.Endpoint != "" {
		session, err := sdkClient.Connect(ctx, &sdkmcp.StreamableClientTransport{Endpoint: spec.Endpoint}, nil)
		if err != nil {
			return nil, fmt.Errorf("connecting to service %s at %s: %w", spec.Tool, spec.Endpoint, err)
		}
		return &mcpClient{session: session}, nil
	}

	rt, err := l.runtime()
	if err != nil {
		return nil, err
	}

	if err := l.ensureImage(ctx, rt, spec.Image); err != nil {
		return nil, err
	}

	args := []string{"run", "--rm", "-i"}
	if spec.ContainerName != "" {
		args = append(args, "--name", spec.ContainerName)
	}
	network := spec.Network
	if network == "" {
		network = "host"
	}
	args = append(args, "--network="+network)
	if spec.Privileged {
		args = append(args, "--privileged")
	}
	args = append(args, spec.Image)

	l.log.Info().Str("tool", spec.Tool).Str("image", spec.Image).Strs("args", args).Msg("launching sandbox")

	cmd := exec.Command(rt, args...)
	session, err := sdkClient.Connect(ctx, &sdkmcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to sandbox %s: %w", spec.Tool, err)
	}
	return &mcpClient{session: session}, nil
}

// runtime resolves and caches the container engine binary.
func (l *runtimeLauncher) runtime() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resolved != "" {
		return l.resolved, nil
	}
	rt, err := detectRuntime(l.requested)
	if err != nil {
		return "", err
	}
	l.resolved = rt
	return rt, nil
}

// ensureImage probes for the image locally and pulls it when absent,
// streaming pull progress to the log line by line.
func (l *runtimeLauncher) ensureImage(ctx context.Context, rt, image string) error {
	if err := exec.CommandContext(ctx, rt, "image", "inspect", image).Run(); err == nil {
		return nil
	}

	l.log.Info().Str("image", image).Msg("pulling image")

	cmd := exec.CommandContext(ctx, rt, "pull", image)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pulling %s: %w", image, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pulling %s: %w", image, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		l.log.Info().Str("image", image).Msg(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pulling %s failed (%v): %s", image, err, tail(stderr.String(), 400))
	}
	return nil
}
