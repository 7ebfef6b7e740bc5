// Package secretaccess resolves secret references (a GCP Secret Manager
// path, or a plain local file path) into their contents, for the two
// places this orchestrator needs a credential at runtime: the GitHub App
// private key (Git Coordinator auth) and coding-agent adapter credentials.
//
// Grounded on internal/controller/init.go's fetchSecret: prefer a live
// Secret Manager client, fall back to the gcloud CLI, generalized with a
// third fallback (plain file read) since this orchestrator also runs
// outside GCP during local development.
package secretaccess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/andywolf/agentorch/internal/cloud/gcp"
)

// Fetcher resolves a secret reference to its value.
type Fetcher struct {
	client gcp.SecretFetcher
}

// New constructs a Fetcher. client may be nil, in which case resolution
// falls back to the gcloud CLI and then a plain file read.
func New(client gcp.SecretFetcher) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch resolves ref, trying in order: a live Secret Manager client, the
// gcloud CLI, and finally treating ref as a local file path. Mirrors
// internal/controller/init.go's fetchSecret fallback chain.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("secretaccess: empty secret reference")
	}

	if f.client != nil {
		if secret, err := f.client.FetchSecret(ctx, ref); err == nil {
			return strings.TrimSpace(secret), nil
		}
	}

	if secretName := parseSecretName(ref); secretName != "" {
		cmd := exec.CommandContext(ctx, "gcloud", "secrets", "versions", "access", "latest", "--secret", secretName)
		if out, err := cmd.Output(); err == nil {
			return strings.TrimSpace(string(out)), nil
		}
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("secretaccess: resolve %q: %w", ref, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseSecretName extracts the bare secret name from a GCP Secret Manager
// path ("projects/P/secrets/NAME[/versions/V]" -> "NAME"), or returns ref
// unchanged if it already looks like a bare name rather than a file path.
func parseSecretName(ref string) string {
	parts := strings.Split(ref, "/")
	if len(parts) >= 4 && parts[0] == "projects" && parts[2] == "secrets" {
		return parts[3]
	}
	if len(parts) == 1 {
		return ref
	}
	return ""
}
