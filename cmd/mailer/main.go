package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendStatus is what the provider reports for a submitted email
type SendStatus string

const (
	StatusSent     SendStatus = "SENT"
	StatusQueued   SendStatus = "QUEUED"
	StatusRejected SendStatus = "REJECTED"
)

// SendEmailRequest is the body of POST /api/v1/email/send
type SendEmailRequest struct {
	MessageID string `json:"message_id"`
	To        string `json:"to" binding:"required"`
	From      string `json:"from" binding:"required"`
	FromName  string `json:"from_name"`
	Subject   string `json:"subject" binding:"required"`
	Text      string `json:"text" binding:"required"`
	HTML      string `json:"html"`
}

// SendEmailResponse mirrors what the gateway client decodes
type SendEmailResponse struct {
	MessageID   string     `json:"message_id"`
	Status      SendStatus `json:"status"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorMsg    string     `json:"error_message,omitempty"`
	ProviderID  string     `json:"provider_id"`
	ProcessedAt time.Time  `json:"processed_at"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	ProviderID  string    `json:"provider_id"`
	Timestamp   time.Time `json:"timestamp"`
	SuccessRate float64   `json:"success_rate"`
}

// MockProvider simulates a transactional email API.
type MockProvider struct {
	mu          sync.Mutex
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	providerID  string
	rng         *rand.Rand
	outbox      []SendEmailRequest
	outboxSize  int
}

func NewMockProvider(successRate float64, minDelay, maxDelay time.Duration) *MockProvider {
	return &MockProvider{
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		providerID:  "MOCK_MAILER_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		outboxSize:  100,
	}
}

func (m *MockProvider) simulateSend(req *SendEmailRequest) *SendEmailResponse {
	delay := m.randomDelay()
	time.Sleep(delay)

	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	response := &SendEmailResponse{
		MessageID:   req.MessageID,
		ProviderID:  m.providerID,
		ProcessedAt: time.Now(),
	}

	if m.shouldSucceed() {
		response.Status = StatusSent
		m.keep(*req)

		log.Info().
			Str("message_id", req.MessageID).
			Str("to", req.To).
			Str("subject", req.Subject).
			Dur("delay", delay).
			Msg("Email sent")
	} else {
		response.Status = StatusRejected
		response.ErrorCode = m.randomErrorCode()
		response.ErrorMsg = errorMessage(response.ErrorCode)

		log.Warn().
			Str("message_id", req.MessageID).
			Str("to", req.To).
			Str("error_code", response.ErrorCode).
			Msg("Email rejected")
	}

	return response
}

// keep stores the newest emails so a developer can read the links that
// recipients would have received.
func (m *MockProvider) keep(req SendEmailRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, req)
	if len(m.outbox) > m.outboxSize {
		m.outbox = m.outbox[len(m.outbox)-m.outboxSize:]
	}
}

func (m *MockProvider) Outbox() []SendEmailRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendEmailRequest(nil), m.outbox...)
}

func (m *MockProvider) randomDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) shouldSucceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.successRate
}

func (m *MockProvider) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successRate
}

func (m *MockProvider) SetSuccessRate(rate float64) {
	m.mu.Lock()
	m.successRate = rate
	m.mu.Unlock()
}

func (m *MockProvider) randomErrorCode() string {
	errorCodes := []string{
		"MAILBOX_UNAVAILABLE",
		"DOMAIN_NOT_FOUND",
		"SPAM_REJECTED",
		"RATE_LIMITED",
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func errorMessage(code string) string {
	messages := map[string]string{
		"MAILBOX_UNAVAILABLE": "The recipient mailbox does not exist",
		"DOMAIN_NOT_FOUND":    "The recipient domain has no mail server",
		"SPAM_REJECTED":       "The message was classified as spam",
		"RATE_LIMITED":        "Too many messages for this recipient",
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

type Handler struct {
	provider *MockProvider
	// downtime is the share of health probes answered with 503
	downtime float64
}

func NewHandler(provider *MockProvider, downtime float64) *Handler {
	return &Handler{provider: provider, downtime: downtime}
}

func (h *Handler) SendEmail(c *gin.Context) {
	var req SendEmailRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("message_id", req.MessageID).
		Str("to", req.To).
		Msg("Received email send request")

	c.JSON(http.StatusOK, h.provider.simulateSend(&req))
}

func (h *Handler) ListOutbox(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.provider.Outbox()})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	if h.downtime > 0 && rand.Float64() < h.downtime {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "Provider temporarily unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ProviderID:  h.provider.providerID,
		Timestamp:   time.Now(),
		SuccessRate: h.provider.SuccessRate(),
	})
}

// UpdateConfig changes the success rate at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.SuccessRate != nil && *config.SuccessRate >= 0 && *config.SuccessRate <= 1.0 {
		h.provider.SetSuccessRate(*config.SuccessRate)
		log.Info().Float64("rate", *config.SuccessRate).Msg("Updated success rate")
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Configuration updated",
		"success_rate": h.provider.SuccessRate(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/email/send", handler.SendEmail)
		v1.GET("/email/outbox", handler.ListOutbox)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	successRate := getEnvFloat("SUCCESS_RATE", 1)
	downtime := getEnvFloat("DOWNTIME_RATE", 0)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock email provider")

	gin.SetMode(gin.ReleaseMode)
	provider := NewMockProvider(successRate, minDelay, maxDelay)
	router := SetupRouter(NewHandler(provider, downtime))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
