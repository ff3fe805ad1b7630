package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

type fakeProvider struct {
	status   int
	rejected bool
	calls    atomic.Int32
	last     atomic.Value
}

func (f *fakeProvider) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) == "/health" {
		ctx.SetBodyString(`{"status":"healthy"}`)
		return
	}
	f.calls.Add(1)

	var email mail.Email
	_ = json.Unmarshal(ctx.PostBody(), &email)
	f.last.Store(email)

	if f.status != 0 {
		ctx.SetStatusCode(f.status)
		return
	}
	resp := SendResponse{MessageID: "m-1", Status: StatusSent, ProviderID: "fake", ProcessedAt: time.Now()}
	if f.rejected {
		resp.Status = StatusRejected
		resp.ErrorMsg = "mailbox unavailable"
	}
	body, _ := json.Marshal(resp)
	ctx.SetBody(body)
}

// startProviders serves each fake on its own in-memory listener, keyed by
// the host part of the provider URL.
func startProviders(t *testing.T, fakes map[string]*fakeProvider) fasthttp.DialFunc {
	t.Helper()
	listeners := map[string]*fasthttputil.InmemoryListener{}
	for host, f := range fakes {
		ln := fasthttputil.NewInmemoryListener()
		listeners[host+":80"] = ln
		go func(f *fakeProvider) { _ = fasthttp.Serve(ln, f.handle) }(f)
		t.Cleanup(func() { _ = ln.Close() })
	}
	return func(addr string) (net.Conn, error) {
		return listeners[addr].Dial()
	}
}

func testClient(t *testing.T, fakes map[string]*fakeProvider, providers ...ProviderConfig) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Providers:               providers,
		From:                    "noreply@timecapsule.test",
		FromName:                "Time Capsule",
		Timeout:                 time.Second,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   time.Minute,
		Dial:                    startProviders(t, fakes),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, logger.Nop())
	assert.ErrorContains(t, err, "config is required")

	_, err = NewClient(&Config{}, logger.Nop())
	assert.ErrorContains(t, err, "at least one provider is required")
}

func TestClient_SendSuccess(t *testing.T) {
	primary := &fakeProvider{}
	c := testClient(t, map[string]*fakeProvider{"primary": primary},
		ProviderConfig{Name: "primary", URL: "http://primary", Weight: 100})

	ok, msg := c.Send(context.Background(), mail.Email{To: "bob@example.com", Subject: "hi", Plain: "body"})
	assert.True(t, ok)
	assert.Equal(t, mail.SuccessMessage, msg)

	got := primary.last.Load().(mail.Email)
	assert.Equal(t, "bob@example.com", got.To)
	assert.Equal(t, "noreply@timecapsule.test", got.From)
	assert.Equal(t, "Time Capsule", got.FromName)
}

func TestClient_SendRejected(t *testing.T) {
	primary := &fakeProvider{rejected: true}
	c := testClient(t, map[string]*fakeProvider{"primary": primary},
		ProviderConfig{Name: "primary", URL: "http://primary", Weight: 100})

	ok, msg := c.Send(context.Background(), mail.Email{To: "bob@example.com"})
	assert.False(t, ok)
	assert.Contains(t, msg, "mailbox unavailable")
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	primary := &fakeProvider{status: fasthttp.StatusUnprocessableEntity}
	c := testClient(t, map[string]*fakeProvider{"primary": primary},
		ProviderConfig{Name: "primary", URL: "http://primary", Weight: 100})

	_, err := c.SendEmail(context.Background(), mail.Email{To: "bob@example.com"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestClient_FailsOverToNextProvider(t *testing.T) {
	broken := &fakeProvider{status: fasthttp.StatusBadGateway}
	backup := &fakeProvider{}
	c := testClient(t, map[string]*fakeProvider{"broken": broken, "backup": backup},
		ProviderConfig{Name: "broken", URL: "http://broken", Weight: 100},
		ProviderConfig{Name: "backup", URL: "http://backup", Weight: 10},
	)

	for i := 0; i < 3; i++ {
		ok, _ := c.Send(context.Background(), mail.Email{To: "bob@example.com"})
		assert.True(t, ok)
	}

	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Equal(t, int32(3), backup.calls.Load())
	assert.Equal(t, int32(1), c.providers[0].metrics.ConsecutiveFails.Load())
	assert.Equal(t, StateHealthy, c.providers[0].State())
}

func TestClient_CircuitBreaker(t *testing.T) {
	c := testClient(t, map[string]*fakeProvider{"primary": {}},
		ProviderConfig{Name: "primary", URL: "http://primary", Weight: 100})
	p := c.providers[0]

	p.metrics.ConsecutiveFails.Store(1)
	c.tripIfNeeded(p)
	assert.Equal(t, StateHealthy, p.State())

	p.metrics.ConsecutiveFails.Store(2)
	c.tripIfNeeded(p)
	assert.Equal(t, StateCircuitOpen, p.State())

	_, err := c.SelectProvider()
	assert.ErrorIs(t, err, ErrNoAvailableProviders)
}

func TestClient_AllProvidersDown(t *testing.T) {
	c := testClient(t, map[string]*fakeProvider{"primary": {}},
		ProviderConfig{Name: "primary", URL: "http://primary", Weight: 100})
	c.providers[0].SetState(StateUnhealthy)

	ok, msg := c.Send(context.Background(), mail.Email{To: "bob@example.com"})
	assert.False(t, ok)
	assert.Contains(t, msg, ErrNoAvailableProviders.Error())
}

func TestClient_HealthAndEvaluate(t *testing.T) {
	c := testClient(t, map[string]*fakeProvider{"primary": {}},
		ProviderConfig{Name: "primary", URL: "http://primary", Weight: 100})
	p := c.providers[0]

	p.SetState(StateUnhealthy)
	c.checkHealth()
	assert.Equal(t, StateHealthy, p.State())

	p.metrics.RecordFailure()
	p.metrics.RecordFailure()
	c.evaluate()
	assert.Equal(t, StateDegraded, p.State())

	for i := 0; i < 60; i++ {
		p.metrics.RecordSuccess(10 * time.Millisecond)
	}
	c.evaluate()
	assert.Equal(t, StateHealthy, p.State())
}

func TestClient_StatsSortedByScore(t *testing.T) {
	c := testClient(t, map[string]*fakeProvider{"a": {}, "b": {}, "c": {}},
		ProviderConfig{Name: "a", URL: "http://a", Weight: 10},
		ProviderConfig{Name: "b", URL: "http://b", Weight: 100},
		ProviderConfig{Name: "c", URL: "http://c", Weight: 50},
	)

	stats := c.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, "b", stats[0].Name)
	assert.Equal(t, "c", stats[1].Name)
	assert.Equal(t, "a", stats[2].Name)
}
