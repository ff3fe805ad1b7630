package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/time-capsule/internal/queue"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/test/helpers"
)

type scriptedProcessor struct {
	mu       sync.Mutex
	results  []error
	attempts []int
}

func (p *scriptedProcessor) GetType() string { return "scripted" }

func (p *scriptedProcessor) Process(_ context.Context, msg *queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, msg.Attempts)
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func (p *scriptedProcessor) calls() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.attempts...)
}

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		Queue: queue.QueueConfig{
			Name:              "test-deliveries",
			ConsumerGroup:     "test-group",
			ConsumerName:      "test",
			MaxRetries:        3,
			VisibilityTimeout: 5 * time.Second,
			PollInterval:      10 * time.Millisecond,
			RetryDelay:        20 * time.Millisecond,
			EnableDLQ:         true,
		},
		Consumers: 2,
		Workers:   2,
	}
}

func TestProcessorService_RequiresProcessor(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	s, err := NewProcessorService(adapter, testServiceConfig(), logger.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Start(), ErrNoProcessor)

	_, err = NewProcessorService(adapter, ServiceConfig{}, logger.Nop())
	assert.Error(t, err)
}

func TestProcessorService_ProcessesAndRetries(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	cfg := testServiceConfig()

	s, err := NewProcessorService(adapter, cfg, logger.Nop())
	require.NoError(t, err)
	p := &scriptedProcessor{results: []error{errors.New("smtp down"), nil}}
	s.RegisterProcessor(p)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	publisher, err := queue.NewQueue(adapter, cfg.Queue)
	require.NoError(t, err)
	require.NoError(t, publisher.PublishAfter(context.Background(), "job-1", []byte(`{}`), nil, 0))

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return len(p.calls()) == 2
	}, "job was not retried")

	assert.Equal(t, []int{0, 1}, p.calls())
	helpers.AssertEventually(t, time.Second, func() bool {
		return s.Metrics().Snapshot().Processed == 1
	}, "success not recorded")
	assert.Equal(t, int64(1), s.Metrics().Snapshot().Failed)
}

func TestProcessorService_PermanentFailureIsDropped(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	cfg := testServiceConfig()

	s, err := NewProcessorService(adapter, cfg, logger.Nop())
	require.NoError(t, err)
	p := &scriptedProcessor{results: []error{queue.Permanent(errors.New("capsule gone"))}}
	s.RegisterProcessor(p)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	publisher, err := queue.NewQueue(adapter, cfg.Queue)
	require.NoError(t, err)
	_, err = publisher.Publish(context.Background(), []byte(`{}`), nil)
	require.NoError(t, err)

	helpers.AssertEventually(t, 2*time.Second, func() bool {
		return s.Metrics().Snapshot().Dropped == 1
	}, "permanent failure not recorded")

	// no retry follows a permanent failure
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, p.calls(), 1)
}

func TestProcessorService_ExhaustedJobGoesToDeadLetters(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	cfg := testServiceConfig()
	cfg.Queue.MaxRetries = 2
	cfg.Consumers = 1

	s, err := NewProcessorService(adapter, cfg, logger.Nop())
	require.NoError(t, err)
	fail := errors.New("smtp down")
	s.RegisterProcessor(&scriptedProcessor{results: []error{fail, fail, fail, fail}})
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	publisher, err := queue.NewQueue(adapter, cfg.Queue)
	require.NoError(t, err)
	require.NoError(t, publisher.PublishAfter(context.Background(), "job-dlq", []byte(`{}`), nil, 0))

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		dead, err := publisher.DeadLetters(context.Background())
		return err == nil && len(dead) == 1
	}, "job did not reach the dead letter queue")
}

func TestServiceMetrics_Snapshot(t *testing.T) {
	m := NewServiceMetrics()
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(40 * time.Millisecond)
	m.RecordFailure()
	m.RecordDropped()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Processed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Dropped)
	assert.Equal(t, int64(30), snap.AvgDurationMs)

	m.Reset()
	assert.Zero(t, m.Snapshot().Processed)
}
