package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// ProgressChannel is the pub/sub channel carrying progress events
const ProgressChannel = "hlsconvert:progress"

const (
	latestRunKey   = "hlsconvert:run:latest"
	writeTimeout   = 2 * time.Second
	defaultTTL     = 24 * time.Hour
	lockKeyPattern = "hlsconvert:lock:%s"
)

// ErrLockLost is reported when a kept lock expired or was taken by another owner
var ErrLockLost = errors.New("lock is no longer held")

// Cache stores run progress in Redis for external dashboards
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis and verifies the connection
func NewCache(host string, port int, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func progressKey(runID string) string {
	return fmt.Sprintf("hlsconvert:run:%s:progress", runID)
}

func summaryKey(runID string) string {
	return fmt.Sprintf("hlsconvert:run:%s:summary", runID)
}

func resultsKey(runID string) string {
	return fmt.Sprintf("hlsconvert:run:%s:results", runID)
}

// SetProgress stores the latest event of a run and marks the run as latest
func (c *Cache) SetProgress(ctx context.Context, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, progressKey(ev.RunID), data, c.ttl)
	pipe.Set(ctx, latestRunKey, ev.RunID, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store progress: %w", err)
	}
	return nil
}

// GetProgress returns the latest event of a run, or nil on a cache miss
func (c *Cache) GetProgress(ctx context.Context, runID string) (*models.ProgressEvent, error) {
	var ev models.ProgressEvent
	found, err := c.getJSON(ctx, progressKey(runID), &ev)
	if err != nil || !found {
		return nil, err
	}
	return &ev, nil
}

// PublishProgress broadcasts an event on ProgressChannel
func (c *Cache) PublishProgress(ctx context.Context, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return c.client.Publish(ctx, ProgressChannel, data).Err()
}

// Subscribe listens on ProgressChannel
func (c *Cache) Subscribe(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, ProgressChannel)
}

// AppendResult records a finished file of a run
func (c *Cache) AppendResult(ctx context.Context, runID string, result models.QueueResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, resultsKey(runID), data)
	pipe.Expire(ctx, resultsKey(runID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// GetResults returns the finished files of a run in completion order
func (c *Cache) GetResults(ctx context.Context, runID string) ([]models.QueueResult, error) {
	items, err := c.client.LRange(ctx, resultsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}

	results := make([]models.QueueResult, 0, len(items))
	for _, item := range items {
		var r models.QueueResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

// SetSummary stores the terminal summary of a run
func (c *Cache) SetSummary(ctx context.Context, summary models.QueueSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return c.client.Set(ctx, summaryKey(summary.RunID), data, c.ttl).Err()
}

// GetSummary returns the summary of a run, or nil when it has not finished
func (c *Cache) GetSummary(ctx context.Context, runID string) (*models.QueueSummary, error) {
	var s models.QueueSummary
	found, err := c.getJSON(ctx, summaryKey(runID), &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// LatestRunID returns the most recently active run, or "" if none
func (c *Cache) LatestRunID(ctx context.Context) (string, error) {
	id, err := c.client.Get(ctx, latestRunKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// AcquireLock tries to take a named lock held for ttl
func (c *Cache) AcquireLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, fmt.Sprintf(lockKeyPattern, resource), owner, ttl).Result()
}

// refreshLockScript extends the lock only while owner still holds it
var refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RefreshLock resets the lock's ttl. It reports false when owner no longer holds the lock.
func (c *Cache) RefreshLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf(lockKeyPattern, resource)
	n, err := refreshLockScript.Run(ctx, c.client, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// KeepLock refreshes a held lock every interval until stop is called or ctx
// is done. onErr receives refresh failures and ErrLockLost once the lock is gone.
func (c *Cache) KeepLock(ctx context.Context, resource, owner string, ttl, interval time.Duration, onErr func(error)) (stop func()) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if interval <= 0 {
		interval = ttl / 3
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := c.RefreshLock(ctx, resource, owner, ttl)
				switch {
				case err != nil && ctx.Err() == nil:
					onErr(err)
				case err == nil && !held:
					onErr(ErrLockLost)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// ReleaseLock releases a lock if owner still holds it
func (c *Cache) ReleaseLock(ctx context.Context, resource, owner string) error {
	key := fmt.Sprintf(lockKeyPattern, resource)
	held, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if held != owner {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// ProgressSink forwards queue events to Redis. Failures are logged and
// never interrupt the run.
type ProgressSink struct {
	cache  *Cache
	logger *logging.Logger
}

// NewProgressSink creates a sink writing to cache
func NewProgressSink(cache *Cache, logger *logging.Logger) *ProgressSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ProgressSink{cache: cache, logger: logger.WithComponent("cache")}
}

// OnProgress stores and publishes ev
func (s *ProgressSink) OnProgress(ev models.ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.cache.SetProgress(ctx, ev); err != nil {
		s.logger.Warnf("Progress snapshot not stored: %v", err)
		return
	}
	if err := s.cache.PublishProgress(ctx, ev); err != nil {
		s.logger.Warnf("Progress event not published: %v", err)
	}
}

// OnFileDone appends the result to the run's result list
func (s *ProgressSink) OnFileDone(runID string, result models.QueueResult) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.cache.AppendResult(ctx, runID, result); err != nil {
		s.logger.Warnf("Result not stored: %v", err)
	}
}

// OnQueueDone stores the run summary
func (s *ProgressSink) OnQueueDone(summary models.QueueSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.cache.SetSummary(ctx, summary); err != nil {
		s.logger.Warnf("Summary not stored: %v", err)
	}
}
