package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runLockKey = "queue_processor:run_lock"

// releaseScript deletes the lock only if it still holds our token, so a run
// that outlived its TTL cannot release a lock another worker re-acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RunLock serializes whole queue-processor invocations across overlapping
// cron triggers and across worker replicas. The per-entry claim in the store
// already prevents double-sends; the run lock just stops redundant runs from
// competing for the same batch.
type RunLock struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func NewRunLock(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RunLock {
	return &RunLock{client: client, ttl: ttl, logger: logger}
}

// Acquire tries to take the lock. Returns a release token and whether the
// lock was obtained; a held lock is not an error.
func (l *RunLock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, runLockKey, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		l.logger.Debug("run lock held by another worker")
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lock back if token still owns it.
func (l *RunLock) Release(ctx context.Context, token string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{runLockKey}, token).Err(); err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}
