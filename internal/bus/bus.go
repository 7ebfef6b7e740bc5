// Package bus implements the Message Bus: a durable, pull-based inbox per
// agent. Workers never bind network ports; they poll their own inbox and
// the bus removes messages from it as they're delivered.
package bus

import (
	"context"
	"time"

	"github.com/andywolf/agentorch/internal/model"
)

// BackendType names which storage a Bus is backed by.
type BackendType string

const (
	BackendFile   BackendType = "file"
	BackendSQLite BackendType = "sqlite"
	BackendRedis  BackendType = "redis"
)

// Bus is the Message Bus contract every backend implements identically.
type Bus interface {
	// Initialize prepares storage (creates directories, tables, or
	// connections). Called once before Send/Poll are used.
	Initialize(ctx context.Context) error

	// Send records message in the recipient's inbox and, when
	// message.Payload["runId"] is present, appends it to that run's
	// history index. Sender and recipient are implicitly registered.
	Send(ctx context.Context, message model.AgentMessage) error

	// Poll waits up to timeout for at least one message to arrive in
	// agentID's inbox, then returns every message currently queued there
	// in ascending timestamp order, removing them from the inbox. It may
	// return an empty slice before timeout elapses if nothing arrives.
	Poll(ctx context.Context, agentID string, timeout time.Duration) ([]model.AgentMessage, error)

	// Broadcast fans message out to every registered agent except its
	// sender and the agents listed in except.
	Broadcast(ctx context.Context, message model.AgentMessage, except []string) error

	// GetMessageHistory returns every message ever sent with
	// payload["runId"] == runID, in send order, regardless of whether it
	// has since been polled out of its inbox.
	GetMessageHistory(ctx context.Context, runID string) ([]model.AgentMessage, error)

	// Cleanup deletes messages (and, opportunistically, now-empty inbox
	// storage) older than retentionDays.
	Cleanup(ctx context.Context, retentionDays int) error

	// Type reports which backend this is, per spec's {file, sqlite, redis}.
	Type() BackendType
}

func runIDOf(message model.AgentMessage) (string, bool) {
	if message.Payload == nil {
		return "", false
	}
	v, ok := message.Payload["runId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
