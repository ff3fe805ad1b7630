package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/redis"
)

type Message struct {
	ID string
	// JobID is the caller supplied identity of a delayed job. It survives
	// retries, the stream ID does not.
	JobID     string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	Attempts  int
	acked     bool
	nacked    bool
	queue     *Queue
}

// Ack explicitly acknowledges the message (marks as successfully processed)
func (m *Message) Ack() error {
	if m.acked {
		return fmt.Errorf("message already acknowledged")
	}
	if m.nacked {
		return fmt.Errorf("message already rejected")
	}

	m.acked = true
	return m.queue.ackMessage(m.ID)
}

// Nack explicitly rejects the message. It stays pending and is reclaimed
// after the visibility timeout.
func (m *Message) Nack() error {
	if m.acked {
		return fmt.Errorf("message already acknowledged")
	}
	if m.nacked {
		return fmt.Errorf("message already rejected")
	}

	m.nacked = true
	return nil
}

// MessageHandler processes one message.
//   - nil: the message is acked
//   - Permanent(err): the message is acked and dropped
//   - any other error: the message is retried after RetryDelay, or moved to
//     the dead letter stream once MaxRetries is reached
type MessageHandler func(ctx context.Context, msg *Message) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
	// RetryDelay re-publishes a failed message as a delayed job. Zero keeps
	// the message pending until the visibility timeout reclaims it.
	RetryDelay time.Duration
	Logger     logger.Logger
	Now        func() time.Time
}

type Queue struct {
	adapter    redis.RedisAdapter
	config     QueueConfig
	handler    MessageHandler
	log        logger.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	processing map[string]*Message
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	DelayedMessages int64
	DeadLetters     int64
	ConsumerCount   int64
}

// envelope is the stored form of a delayed message.
type envelope struct {
	Data     []byte            `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Attempts int               `json:"attempts"`
}

// promoteScript moves due jobs from the delayed set into the stream. It runs
// atomically, so concurrent consumers never publish the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = 0
for _, id in ipairs(due) do
  local payload = redis.call('HGET', KEYS[2], id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[2], id)
  if payload then
    redis.call('XADD', KEYS[3], '*', 'envelope', payload, 'job_id', id, 'timestamp', ARGV[3])
    moved = moved + 1
  end
end
return moved
`)

// NewQueue creates a new queue instance
func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter:    adapter,
		config:     config,
		log:        config.Logger,
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]*Message),
	}

	// BUSYGROUP means the group already exists.
	_ = q.adapter.XGroupCreateMkStream(ctx, q.config.Name, q.config.ConsumerGroup, "0")

	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) delayedKey() string { return q.config.Name + ":delayed" }
func (q *Queue) payloadKey() string { return q.config.Name + ":delayed:payload" }
func (q *Queue) dlqKey() string     { return q.config.Name + ":dlq" }

// Publish adds a message to the stream for immediate consumption.
func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": q.config.Now().Unix(),
		"attempts":  0,
	}

	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	q.trim(ctx)

	return id, nil
}

// PublishJSON publishes a JSON-encoded message
func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, jsonData, metadata)
}

// PublishAt stores a job that becomes visible to consumers at the given
// instant. Publishing the same jobID again replaces the pending job.
func (q *Queue) PublishAt(ctx context.Context, jobID string, data []byte, metadata map[string]string, at time.Time) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	return q.publishDelayed(ctx, jobID, envelope{Data: data, Metadata: metadata}, at)
}

// PublishAfter is PublishAt relative to now.
func (q *Queue) PublishAfter(ctx context.Context, jobID string, data []byte, metadata map[string]string, delay time.Duration) error {
	return q.PublishAt(ctx, jobID, data, metadata, q.config.Now().Add(delay))
}

func (q *Queue) publishDelayed(ctx context.Context, jobID string, env envelope, at time.Time) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal delayed job: %w", err)
	}
	if err := q.adapter.HSet(ctx, q.payloadKey(), jobID, payload); err != nil {
		return fmt.Errorf("failed to store delayed job: %w", err)
	}
	if err := q.adapter.ZAdd(ctx, q.delayedKey(), float64(at.UnixMilli()), jobID); err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}
	return nil
}

// Cancel removes a delayed job that has not been promoted yet. It reports
// whether anything was removed.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	removed, err := q.adapter.ZRem(ctx, q.delayedKey(), jobID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	if _, err := q.adapter.HDel(ctx, q.payloadKey(), jobID); err != nil {
		return false, fmt.Errorf("failed to drop job payload %s: %w", jobID, err)
	}
	return removed > 0, nil
}

// ScheduledAt returns the due instant of a delayed job.
func (q *Queue) ScheduledAt(ctx context.Context, jobID string) (time.Time, bool, error) {
	score, err := q.adapter.ZScore(ctx, q.delayedKey(), jobID)
	if errors.Is(err, redis.NilError) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

// PromoteDue moves every delayed job whose instant has passed into the stream.
func (q *Queue) PromoteDue(ctx context.Context) (int64, error) {
	now := q.config.Now()
	res, err := q.adapter.Eval(ctx, promoteScript,
		[]string{q.delayedKey(), q.payloadKey(), q.config.Name},
		now.UnixMilli(), q.config.BatchSize*10, now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	moved, _ := res.(int64)
	if moved > 0 {
		q.trim(ctx)
	}
	return moved, nil
}

func (q *Queue) trim(ctx context.Context) {
	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen)
	}
}

// Consume starts the consumer loop. The handler runs on the loop goroutine.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	q.handler = handler
	q.wg.Add(1)

	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.PromoteDue(q.ctx); err != nil && q.ctx.Err() == nil {
				q.log.Error("failed to promote delayed jobs", "queue", q.config.Name, "error", err)
			}
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

func (q *Queue) processMessages() {
	messages, err := q.adapter.XReadGroup(
		q.ctx,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
	)

	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			q.log.Error("failed to read queue", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, streamMsg := range messages {
		msg := q.streamMessageToMessage(streamMsg)
		q.handleMessage(msg)
	}
}

func (q *Queue) claimStuckMessages() {
	pending, err := q.adapter.XPending(q.ctx, q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := q.adapter.XPendingExt(
		q.ctx,
		q.config.Name,
		q.config.ConsumerGroup,
		"-",
		"+",
		100,
	)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	var idsToReclaim []string
	for _, msg := range pendingExt {
		if msg.Idle >= q.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, msg.ID)
		}
	}

	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(
		q.ctx,
		q.config.Name,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.VisibilityTimeout,
		idsToReclaim...,
	)

	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		msg := q.streamMessageToMessage(streamMsg)
		msg.Attempts++
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	q.mu.Lock()
	q.processing[msg.ID] = msg
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.processing, msg.ID)
		q.mu.Unlock()
	}()

	if msg.Attempts > q.config.MaxRetries {
		q.moveToDeadLetterQueue(msg, "max retries exceeded")
		_ = q.ackMessage(msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	err := q.handler(ctx, msg)
	switch {
	case err == nil:
		_ = q.ackMessage(msg.ID)
	case IsPermanent(err):
		q.log.Warn("dropping message after permanent failure", "queue", q.config.Name, "job_id", msg.JobID, "error", err)
		_ = q.ackMessage(msg.ID)
	case q.config.RetryDelay > 0:
		q.retryLater(msg, err)
	}
}

// retryLater re-publishes the message as a delayed job before acking the
// original, so a crash in between yields a duplicate rather than a loss.
func (q *Queue) retryLater(msg *Message, cause error) {
	if msg.Attempts >= q.config.MaxRetries {
		q.moveToDeadLetterQueue(msg, cause.Error())
		_ = q.ackMessage(msg.ID)
		return
	}

	jobID := msg.JobID
	if jobID == "" {
		jobID = "retry:" + msg.ID
	}

	next := envelope{Data: msg.Data, Metadata: msg.Metadata, Attempts: msg.Attempts + 1}
	if err := q.publishDelayed(q.ctx, jobID, next, q.config.Now().Add(q.config.RetryDelay)); err != nil {
		q.log.Error("failed to schedule retry, leaving message pending", "queue", q.config.Name, "job_id", jobID, "error", err)
		return
	}
	_ = q.ackMessage(msg.ID)
}

func (q *Queue) ackMessage(messageID string) error {
	return q.adapter.XAck(q.ctx, q.config.Name, q.config.ConsumerGroup, messageID)
}

func (q *Queue) moveToDeadLetterQueue(msg *Message, reason string) {
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"job_id":         msg.JobID,
		"attempts":       msg.Attempts,
		"reason":         reason,
		"failed_at":      q.config.Now().Unix(),
		"original_queue": q.config.Name,
	}

	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(q.ctx, q.dlqKey(), values); err != nil {
		q.log.Error("failed to dead-letter message", "queue", q.config.Name, "job_id", msg.JobID, "error", err)
	}
}

func (q *Queue) streamMessageToMessage(streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
		queue:    q,
	}

	for k, v := range streamMsg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "data":
			msg.Data = []byte(s)
		case "envelope":
			var env envelope
			if err := json.Unmarshal([]byte(s), &env); err == nil {
				msg.Data = env.Data
				msg.Attempts = env.Attempts
				for mk, mv := range env.Metadata {
					msg.Metadata[mk] = mv
				}
			}
		case "job_id":
			msg.JobID = s
		case "timestamp":
			if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.Timestamp = time.Unix(unix, 0)
			}
		case "attempts":
			if n, err := strconv.Atoi(s); err == nil {
				msg.Attempts = n
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				msg.Metadata[k[5:]] = s
			}
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = q.config.Now()
	}

	return msg
}

// InFlight returns the number of messages currently handled.
func (q *Queue) InFlight() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.processing)
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	totalMessages, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		TotalMessages: totalMessages,
	}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if delayed, err := q.adapter.ZCard(ctx, q.delayedKey()); err == nil {
		stats.DelayedMessages = delayed
	}
	if dead, err := q.adapter.XLen(ctx, q.dlqKey()); err == nil {
		stats.DeadLetters = dead
	}

	return stats, nil
}

// DeadLetters lists the dead letter stream, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]redis.StreamMessage, error) {
	return q.adapter.XRange(ctx, q.dlqKey(), "-", "+")
}
