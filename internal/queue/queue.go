// Package queue implements durable named job queues on Redis with
// exponential-backoff retry and dead-letter routing.
//
// Keys per queue q:
//
//	q:<name>:ready    LIST  jobs ready to run (LPUSH head, BRPOP tail)
//	q:<name>:delayed  ZSET  retry jobs scored by fire time (unix ms)
//	q:<name>:dead     LIST  jobs that exhausted their attempts
//	q:<name>:done     LIST  recently completed job ids (capped)
//	q:<name>:failed   LIST  recently failed job ids (capped)
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Named queues of the pipeline.
const (
	QueueIngest    = "ingest"
	QueueNormalize = "normalize"
	QueueMetrics   = "metrics"
	QueueFeed      = "feed"
)

// Job is the envelope stored on the broker.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffSeed int64           `json:"backoff_seed_ms"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Options control retry behaviour per enqueue. Zero values take defaults.
type Options struct {
	Attempts         int           // default 3
	BackoffSeed      time.Duration // default jittered 30-60s
	RemoveOnComplete int           // default 100
	RemoveOnFail     int           // default 50
}

func (o *Options) withDefaults() Options {
	out := Options{Attempts: 3, RemoveOnComplete: 100, RemoveOnFail: 50}
	if o != nil {
		if o.Attempts > 0 {
			out.Attempts = o.Attempts
		}
		if o.BackoffSeed > 0 {
			out.BackoffSeed = o.BackoffSeed
		}
		if o.RemoveOnComplete > 0 {
			out.RemoveOnComplete = o.RemoveOnComplete
		}
		if o.RemoveOnFail > 0 {
			out.RemoveOnFail = o.RemoveOnFail
		}
	}
	if out.BackoffSeed == 0 {
		out.BackoffSeed = 30*time.Second + time.Duration(rand.Int63n(int64(30*time.Second)))
	}
	return out
}

// backoffDelay returns the delay before retry attempt n (1-based) of a job
// with the given seed: seed * 2^(n-1).
func backoffDelay(seed time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := seed
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// promoteScript atomically moves due delayed jobs onto the ready list.
// KEYS[1] = delayed zset, KEYS[2] = ready list
// ARGV[1] = now (unix ms), ARGV[2] = max batch
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, job in ipairs(due) do
    redis.call("LPUSH", KEYS[2], job)
    redis.call("ZREM", KEYS[1], job)
end
return #due
`)

// Client talks to the broker. One Client is shared by the API surface, the
// scheduler and all worker pools.
type Client struct {
	rdb *redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func readyKey(q string) string   { return "q:" + q + ":ready" }
func delayedKey(q string) string { return "q:" + q + ":delayed" }
func deadKey(q string) string    { return "q:" + q + ":dead" }
func doneKey(q string) string    { return "q:" + q + ":done" }
func failedKey(q string) string  { return "q:" + q + ":failed" }

// Enqueue marshals payload and pushes a job onto the named queue. Returns the
// job id.
func (c *Client) Enqueue(ctx context.Context, queueName, jobName string, payload interface{}, opts *Options) (string, error) {
	o := opts.withDefaults()

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	job := Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Name:        jobName,
		Payload:     raw,
		Attempt:     0,
		MaxAttempts: o.Attempts,
		BackoffSeed: o.BackoffSeed.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := c.rdb.LPush(ctx, readyKey(queueName), data).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s/%s: %w", queueName, jobName, err)
	}
	return job.ID, nil
}

// promoteDue moves delayed jobs whose fire time has passed onto the ready
// list. Called by worker pools before each pop.
func (c *Client) promoteDue(ctx context.Context, queueName string) error {
	now := time.Now().UnixMilli()
	return promoteScript.Run(ctx, c.rdb,
		[]string{delayedKey(queueName), readyKey(queueName)}, now, 100).Err()
}

// pop blocks up to timeout waiting for the next ready job.
func (c *Client) pop(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	res, err := c.rdb.BRPop(ctx, timeout, readyKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// retry schedules the job's next attempt, or moves it to the dead-letter list
// when attempts are exhausted.
func (c *Client) retry(ctx context.Context, job *Job, cause error, removeOnFail int) error {
	job.Attempt++
	job.LastError = cause.Error()

	if job.Attempt >= job.MaxAttempts {
		return c.deadLetter(ctx, job, removeOnFail)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	fireAt := time.Now().Add(backoffDelay(time.Duration(job.BackoffSeed)*time.Millisecond, job.Attempt))
	return c.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: data,
	}).Err()
}

// deadLetter parks a job on the dead list, bypassing any remaining attempts.
func (c *Client) deadLetter(ctx context.Context, job *Job, removeOnFail int) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, deadKey(job.Queue), data)
	pipe.LPush(ctx, failedKey(job.Queue), job.ID)
	pipe.LTrim(ctx, failedKey(job.Queue), 0, int64(removeOnFail)-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) complete(ctx context.Context, job *Job, removeOnComplete int) error {
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, doneKey(job.Queue), job.ID)
	pipe.LTrim(ctx, doneKey(job.Queue), 0, int64(removeOnComplete)-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth reports ready/delayed/dead counts for a queue (for /status).
func (c *Client) Depth(ctx context.Context, queueName string) (ready, delayed, dead int64, err error) {
	if ready, err = c.rdb.LLen(ctx, readyKey(queueName)).Result(); err != nil {
		return
	}
	if delayed, err = c.rdb.ZCard(ctx, delayedKey(queueName)).Result(); err != nil {
		return
	}
	dead, err = c.rdb.LLen(ctx, deadKey(queueName)).Result()
	return
}

// DeadLetters returns up to limit jobs from the dead-letter area for manual
// inspection.
func (c *Client) DeadLetters(ctx context.Context, queueName string, limit int64) ([]Job, error) {
	rows, err := c.rdb.LRange(ctx, deadKey(queueName), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		var job Job
		if err := json.Unmarshal([]byte(row), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Cooldown acquires a named cooldown window. Returns true when the caller
// holds the window (first acquisition), false when the window is still
// active, along with the remaining wait. Used for the per-connection
// user-triggered sync limit.
func (c *Client) Cooldown(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error) {
	ok, err := c.rdb.SetNX(ctx, "cooldown:"+key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := c.rdb.TTL(ctx, "cooldown:"+key).Result()
	if err != nil {
		return false, 0, err
	}
	return false, ttl, nil
}

// ClearCooldown releases a cooldown early (scheduler-triggered syncs are not
// limited, so they clear the user window on success).
func (c *Client) ClearCooldown(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "cooldown:"+key).Err()
}
