// Container runtime abstraction for the Worker Pool: a capability to hand
// one grandchild ticket an isolated workspace, either a plain per-ticket
// directory (the default) or a Docker-mounted volume when the pool is
// configured with useContainers=true.
//
// Grounded on internal/controller/docker.go's runAgentContainer ("docker
// run --rm -v <dir>:/workspace -w /workspace <image>" invocation style),
// generalized from "run one agent container for the session's single
// fixed workDir" to "provision/destroy a throwaway workspace per ticket".
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Provisioner is the capability every workspace backend implements:
// createWorkspace(projectRef, ticketId) -> workspacePath, destroy.
type Provisioner interface {
	CreateWorkspace(ctx context.Context, projectRef, ticketID string) (path string, err error)
	Destroy(ctx context.Context, path string) error
}

// PlainDirProvisioner is the no-op implementation: a workspace is just a
// directory under root, scoped by project and ticket ID. Used when the
// Worker Pool is configured with useContainers=false.
type PlainDirProvisioner struct {
	Root string
}

// NewPlainDirProvisioner creates a Provisioner that hands out directories
// under root.
func NewPlainDirProvisioner(root string) *PlainDirProvisioner {
	return &PlainDirProvisioner{Root: root}
}

func (p *PlainDirProvisioner) CreateWorkspace(ctx context.Context, projectRef, ticketID string) (string, error) {
	path := filepath.Join(p.Root, projectRef, ticketID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", path, err)
	}
	return path, nil
}

func (p *PlainDirProvisioner) Destroy(ctx context.Context, path string) error {
	return nil
}

// DockerProvisioner mounts each ticket's workspace directory into a
// long-lived container so the coding-agent CLI runs fully isolated from
// the host, grounded on docker.go's "-v <dir>:/workspace -w /workspace"
// mount convention. CreateWorkspace still returns a host path (the Worker
// Pool's tool-call surface and git operations act on the host bind mount);
// Destroy stops and removes the per-ticket container.
type DockerProvisioner struct {
	Root  string
	Image string
}

// NewDockerProvisioner creates a Provisioner that backs each ticket's
// workspace with its own container running image.
func NewDockerProvisioner(root, image string) *DockerProvisioner {
	return &DockerProvisioner{Root: root, Image: image}
}

func containerName(ticketID string) string {
	return "agentorch-ws-" + ticketID
}

func (p *DockerProvisioner) CreateWorkspace(ctx context.Context, projectRef, ticketID string) (string, error) {
	path := filepath.Join(p.Root, projectRef, ticketID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", path, err)
	}

	args := []string{
		"run", "-d", "--name", containerName(ticketID),
		"-v", fmt.Sprintf("%s:/workspace", path),
		"-w", "/workspace",
		p.Image, "sleep", "infinity",
	}
	cmd := exec.CommandContext(ctx, "docker", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("docker run: %w: %s", err, out)
	}
	return path, nil
}

func (p *DockerProvisioner) Destroy(ctx context.Context, path string) error {
	ticketID := filepath.Base(path)
	rm := exec.CommandContext(ctx, "docker", "rm", "-f", containerName(ticketID))
	if out, err := rm.CombinedOutput(); err != nil {
		return fmt.Errorf("docker rm: %w: %s", err, out)
	}
	return nil
}
