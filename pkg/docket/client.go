package docket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/tribunal/pkg/audit"
)

// Client provides namespaced Redis operations for run history.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a docket client for the given namespace.
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(redisURL, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, namespace)
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveReport stores a report, indexes it by finish time and publishes its
// summary on the run events channel. Saving the same report twice is safe.
func (c *Client) SaveReport(ctx context.Context, r *audit.Report) error {
	if r == nil || r.RunID == "" {
		return fmt.Errorf("report must have a run ID")
	}

	hash, err := ReportToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	summary := r.Summary()

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, RunKey(c.namespace, r.RunID), hash)
		pipe.ZAdd(ctx, RunIndexKey(c.namespace), redis.Z{
			Score:  float64(summary.FinishedAtMs),
			Member: r.RunID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write report to Redis: %w", err)
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary for event: %w", err)
	}
	if err := c.rdb.Publish(ctx, RunEventsChannel(c.namespace), summaryJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	return nil
}

// GetReport retrieves a full report by run ID.
// Returns (nil, redis.Nil) if the run doesn't exist; use IsNotFound to check.
func (c *Client) GetReport(ctx context.Context, runID string) (*audit.Report, error) {
	hashData, err := c.rdb.HGetAll(ctx, RunKey(c.namespace, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	report, err := HashToReport(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize run %s: %w", runID, err)
	}
	return report, nil
}

// RunExists checks if a run is stored without fetching it.
func (c *Client) RunExists(ctx context.Context, runID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, RunKey(c.namespace, runID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check run existence: %w", err)
	}
	return n > 0, nil
}

// ListOptions bounds a run listing. Zero values mean unbounded.
type ListOptions struct {
	SinceMs int64 // Inclusive lower bound on finish time
	UntilMs int64 // Inclusive upper bound on finish time
	Limit   int
}

// ListRuns returns run summaries newest first.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]audit.RunSummary, error) {
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if opts.SinceMs > 0 {
		rangeBy.Min = strconv.FormatInt(opts.SinceMs, 10)
	}
	if opts.UntilMs > 0 {
		rangeBy.Max = strconv.FormatInt(opts.UntilMs, 10)
	}
	if opts.Limit > 0 {
		rangeBy.Count = int64(opts.Limit)
	}

	ids, err := c.rdb.ZRevRangeByScore(ctx, RunIndexKey(c.namespace), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, RunKey(c.namespace, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read runs from Redis: %w", err)
	}

	out := make([]audit.RunSummary, 0, len(ids))
	for i, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			// Indexed but deleted; skip rather than fail the listing.
			continue
		}
		s, err := HashToSummary(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize run %s: %w", ids[i], err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ScanRuns returns the IDs of stored runs starting with prefix, sorted.
func (c *Client) ScanRuns(ctx context.Context, prefix string) ([]string, error) {
	keyPrefix := RunKey(c.namespace, "")
	iter := c.rdb.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()

	var out []string
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Subscription represents an active Pub/Sub subscription to run events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan audit.RunSummary
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of run summaries.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan audit.RunSummary {
	return s.events
}

// Errors returns the channel of subscription errors. Malformed messages are
// reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeRunEvents subscribes to summaries of newly saved runs.
// Delivery is at-most-once: a slow subscriber may miss events.
func (c *Client) SubscribeRunEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, RunEventsChannel(c.namespace))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	eventsChan := make(chan audit.RunSummary, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var summary audit.RunSummary
				if err := json.Unmarshal([]byte(msg.Payload), &summary); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal run event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- summary:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
