package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/time-capsule/internal/queue"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/prom"
	"github.com/nimasrn/time-capsule/pkg/redis"
	"github.com/nimasrn/time-capsule/pkg/worker"
)

const (
	DefaultProcessingTimeout = time.Minute
	HealthInterval           = 30 * time.Second
	MetricsInterval          = 30 * time.Second
	ShutdownTimeout          = time.Minute
	backlogWarnThreshold     = 10_000
)

var ErrNoProcessor = errors.New("no processor registered")

// Processor handles one job type.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue             queue.QueueConfig
	Consumers         int
	Workers           int
	BufferSize        int
	ProcessingTimeout time.Duration
}

// ProcessorService reads the job stream with several consumers of one group
// and hands each message to a bounded worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	log       logger.Logger
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, config ServiceConfig, log logger.Logger) (*ProcessorService, error) {
	if config.Queue.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Workers * 4
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = DefaultProcessingTimeout
	}
	if config.Queue.Logger == nil {
		config.Queue.Logger = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: adapter,
		config:  config,
		log:     log,
		metrics: NewServiceMetrics(),
		worker:  worker.NewWorkerManager(config.BufferSize, config.Workers, nil),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *ProcessorService) RegisterProcessor(p Processor) {
	s.processor = p
	s.log.Info("registered processor", "type", p.GetType())
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *ProcessorService) Start() error {
	if s.processor == nil {
		return ErrNoProcessor
	}
	s.log.Info("starting processor service", "queue", s.config.Queue.Name)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil && !errors.Is(err, worker.ErrStopped) {
			s.log.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-instance-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, qc)
		if err != nil {
			return fmt.Errorf("create consumer %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.every(MetricsInterval, s.reportMetrics)
	go s.every(HealthInterval, s.performHealthCheck)

	s.log.Info("processor service started", "consumers", len(s.queues), "workers", s.worker.Size())
	return nil
}

func (s *ProcessorService) every(d time.Duration, fn func()) {
	defer s.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	snap := s.metrics.Snapshot()
	s.log.Info("processor metrics",
		"total_processed", snap.Processed,
		"total_failed", snap.Failed,
		"total_dropped", snap.Dropped,
		"rate_per_second", snap.RatePerSecond,
		"avg_duration_ms", snap.AvgDurationMs,
		"uptime_seconds", snap.UptimeSeconds,
	)

	if len(s.queues) == 0 {
		return
	}
	// every consumer reads the same stream, one of them is enough
	stats, err := s.queues[0].GetStats(context.Background())
	if err != nil {
		s.log.Warn("queue stats unavailable", "error", err)
		return
	}
	prom.SetQueueBacklog(s.config.Queue.Name, stats.DelayedMessages, stats.DeadLetters)
	s.log.Info("queue stats",
		"queue", s.config.Queue.Name,
		"total", stats.TotalMessages,
		"pending", stats.PendingMessages,
		"delayed", stats.DelayedMessages,
		"dead_letters", stats.DeadLetters,
	)
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		s.log.Error("health check failed: redis unreachable", "error", err)
		return
	}
	if len(s.queues) > 0 {
		stats, err := s.queues[0].GetStats(ctx)
		if err != nil {
			s.log.Warn("health check: queue stats unavailable", "error", err)
			return
		}
		if stats.PendingMessages > backlogWarnThreshold {
			s.log.Warn("health check: queue has high lag", "pending_messages", stats.PendingMessages)
		}
	}
	s.log.Debug("health check ok")
}

// Stop drains consumers first so no message is left waiting on a stopped
// worker pool.
func (s *ProcessorService) Stop() {
	s.log.Info("shutting down processor service")

	var wg sync.WaitGroup
	for i, q := range s.queues {
		wg.Add(1)
		go func(i int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				s.log.Error("error stopping consumer", "consumer", i, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	s.log.Info("processor service stopped")
}

type jobResult struct {
	ctx        context.Context
	msg        *queue.Message
	resultChan chan error
}

// messageHandler runs on a consumer goroutine and blocks until a worker
// reports the result, so ack or retry follows the real outcome.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	job := &jobResult{ctx: ctx, msg: msg, resultChan: make(chan error, 1)}
	if err := s.worker.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	select {
	case err := <-job.resultChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for worker: %w", ctx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	res, ok := job.(*jobResult)
	if !ok {
		s.log.Error("invalid job type in worker", "worker", workerIndex)
		return
	}
	if res.ctx.Err() != nil {
		s.log.Warn("job context ended before processing started", "worker", workerIndex, "job_id", res.msg.JobID)
		return
	}

	start := time.Now()
	err := s.processor.Process(res.ctx, res.msg)
	switch {
	case err == nil:
		s.metrics.RecordSuccess(time.Since(start))
	case queue.IsPermanent(err):
		s.metrics.RecordDropped()
	default:
		s.metrics.RecordFailure()
		s.log.Warn("job failed", "worker", workerIndex, "job_id", res.msg.JobID, "attempt", res.msg.Attempts, "error", err)
	}

	// buffered, never blocks
	res.resultChan <- err
}
