package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/harvester/internal/core/domain"
)

// mirrorTTL keeps stale mirrors from outliving their sessions. The file
// snapshot is the durable copy; the mirror only feeds the status CLI.
const mirrorTTL = 48 * time.Hour

func mirrorKey(sessionID string) string {
	return fmt.Sprintf("harvester:progress:%s", sessionID)
}

// MirrorSnapshot publishes a copy of the session's progress snapshot so
// `harvester status` works from any host sharing the Redis instance.
func (c *Client) MirrorSnapshot(ctx context.Context, snap *domain.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, mirrorKey(snap.SessionID), data, mirrorTTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror snapshot: %w", err)
	}
	return nil
}

// GetMirroredSnapshot returns the mirrored snapshot, or (nil, nil) when the
// session has none.
func (c *Client) GetMirroredSnapshot(ctx context.Context, sessionID string) (*domain.ProgressSnapshot, error) {
	data, err := c.rdb.Get(ctx, mirrorKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mirrored snapshot: %w", err)
	}

	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirrored snapshot: %w", err)
	}
	return &snap, nil
}

// ClearMirror removes a session's mirror, typically after reset-session.
func (c *Client) ClearMirror(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, mirrorKey(sessionID)).Err()
}
