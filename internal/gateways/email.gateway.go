package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/prom"
)

var (
	ErrNoAvailableProviders = errors.New("no available email providers")
	ErrRejected             = errors.New("email rejected by provider")
)

const sendPath = "/api/v1/email/send"

type SendStatus string

const (
	StatusSent     SendStatus = "SENT"
	StatusQueued   SendStatus = "QUEUED"
	StatusRejected SendStatus = "REJECTED"
)

type SendResponse struct {
	MessageID   string     `json:"message_id"`
	Status      SendStatus `json:"status"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorMsg    string     `json:"error_message,omitempty"`
	ProviderID  string     `json:"provider_id"`
	ProcessedAt time.Time  `json:"processed_at"`
}

type ProviderConfig struct {
	Name   string
	URL    string
	Weight int
}

type Config struct {
	Providers               []ProviderConfig
	From                    string
	FromName                string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	EvaluateInterval        time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Dial overrides the transport, used by tests.
	Dial fasthttp.DialFunc
}

func (c *Config) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 64
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = 30 * time.Second
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 30 * time.Second
	}
}

// Client sends transactional email through the best scoring of several
// HTTP email providers.
type Client struct {
	config    Config
	providers []*Provider
	log       logger.Logger
	now       func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(config *Config, log logger.Logger) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	cfg := *config
	cfg.withDefaults()

	c := &Client{
		config: cfg,
		log:    log,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, pc := range cfg.Providers {
		httpClient := &fasthttp.Client{
			Name:                "time-capsule-mailer",
			MaxConnsPerHost:     cfg.MaxConns,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
			Dial:                cfg.Dial,
		}
		c.providers = append(c.providers, NewProvider(pc.Name, pc.URL, pc.Weight, httpClient))
		log.Info("email provider initialized", "name", pc.Name, "url", pc.URL, "weight", pc.Weight)
	}

	c.wg.Add(2)
	go c.loop(cfg.HealthCheckInterval, c.checkHealth)
	go c.loop(cfg.EvaluateInterval, c.evaluate)

	return c, nil
}

// SelectProvider returns the available provider with the highest score.
func (c *Client) SelectProvider() (*Provider, error) {
	now := c.now()
	var (
		best  *Provider
		score float64
	)
	for _, p := range c.providers {
		if s := p.Score(now); s > score {
			best, score = p, s
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// Send implements mail.Sender. The returned message is what the delivery
// log records.
func (c *Client) Send(ctx context.Context, email mail.Email) (bool, string) {
	resp, err := c.SendEmail(ctx, email)
	if err != nil {
		return false, fmt.Sprintf("Error sending email to %s: %v", email.To, err)
	}
	if resp.Status == StatusRejected {
		return false, fmt.Sprintf("Error sending email to %s: %s", email.To, resp.ErrorMsg)
	}
	return true, mail.SuccessMessage
}

// SendEmail posts the email to a provider, moving to the next best provider
// on transport errors until MaxRetries is spent.
func (c *Client) SendEmail(ctx context.Context, email mail.Email) (*SendResponse, error) {
	if email.From == "" {
		email.From = c.config.From
	}
	if email.FromName == "" {
		email.FromName = c.config.FromName
	}
	body, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("marshal email: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		p, err := c.SelectProvider()
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		raw, err := c.do(ctx, p, fasthttp.MethodPost, sendPath, body)
		latency := time.Since(start)
		if errors.Is(err, ErrRejected) {
			p.metrics.RecordSuccess(latency)
			return nil, err
		}
		if err != nil {
			p.metrics.RecordFailure()
			c.tripIfNeeded(p)
			prom.ObserveEmailSend(p.name, false, latency.Seconds())
			c.log.Warn("email provider request failed", "provider", p.name, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		p.metrics.RecordSuccess(latency)
		prom.ObserveEmailSend(p.name, true, latency.Seconds())

		var resp SendResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode provider response: %w", err)
		}
		c.log.Info("email handed to provider",
			"to", email.To,
			"status", resp.Status,
			"provider", p.name,
			"latency_ms", latency.Milliseconds(),
		)
		return &resp, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, p *Provider, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, err
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusOK || code == fasthttp.StatusAccepted:
	case code >= 400 && code < 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, code, resp.Body())
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", code, resp.Body())
	}

	return append([]byte(nil), resp.Body()...), nil
}

func (c *Client) tripIfNeeded(p *Provider) {
	fails := p.metrics.ConsecutiveFails.Load()
	if int(fails) < c.config.CircuitBreakerThreshold {
		return
	}
	p.openCircuit(c.now().Add(c.config.CircuitBreakerTimeout))
	c.log.Warn("email provider circuit opened", "provider", p.name, "consecutive_fails", fails)
}

func (c *Client) loop(every time.Duration, fn func()) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	for _, p := range c.providers {
		healthy := c.probe(ctx, p)
		old := p.State()
		next := old
		switch {
		case !healthy && old != StateCircuitOpen:
			next = StateUnhealthy
		case healthy && old == StateUnhealthy:
			next = StateHealthy
		}
		if next != old {
			p.SetState(next)
			c.log.Info("email provider state changed", "provider", p.name, "from", old.String(), "to", next.String())
		}
	}
}

func (c *Client) probe(ctx context.Context, p *Provider) bool {
	raw, err := c.do(ctx, p, fasthttp.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(raw, &health) == nil && health.Status == "healthy"
}

// evaluate degrades providers that are slow or failing and restores those
// that recovered.
func (c *Client) evaluate() {
	for _, p := range c.providers {
		state := p.State()
		if state == StateCircuitOpen || state == StateUnhealthy {
			continue
		}
		rate, avg := p.metrics.SuccessRate(), p.metrics.AvgLatencyMs()
		switch {
		case (rate < 0.8 || avg > 5000) && state != StateDegraded:
			p.SetState(StateDegraded)
			c.log.Warn("email provider degraded", "provider", p.name, "success_rate", rate, "avg_latency_ms", avg)
		case rate > 0.95 && avg < 2000 && state == StateDegraded:
			p.SetState(StateHealthy)
			c.log.Info("email provider recovered", "provider", p.name)
		}
	}
}

// Stats lists providers by descending score.
func (c *Client) Stats() []ProviderStats {
	now := c.now()
	stats := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		stats = append(stats, p.Stats(now))
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		c.log.Info("email client closed")
	})
	return nil
}
