package xhttp

import (
	"os"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/prefork"

	"github.com/nimasrn/time-capsule/pkg/logger"
)

type Server = fasthttp.Server
type Prefork = prefork.Prefork

type ServerOption struct {
	Name string

	// MaxRequestBodySize bounds multipart uploads as well, so it is sized
	// for media files rather than JSON.
	MaxRequestBodySize int
	ReadBufferSize     int
	WriteBufferSize    int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration

	// IdleTimeout closes keep-alive connections nobody uses, keeping the
	// open file count down.
	IdleTimeout           time.Duration
	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration
	Concurrency           int
	MaxConnsPerIP         int
	RecoverThreshold      int
}

func DefaultServerOption() ServerOption {
	return ServerOption{
		Name:                  "time-capsule",
		MaxRequestBodySize:    100 * 1024 * 1024,
		ReadBufferSize:        8 * 1024, // also the max header size
		WriteBufferSize:       4 * 1024,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           10 * time.Second,
		MaxIdleWorkerDuration: time.Minute,
		TCPKeepalivePeriod:    2 * time.Hour, // linux default
		Concurrency:           30_000,
		MaxConnsPerIP:         10_000,
		RecoverThreshold:      100,
	}
}

// Merge fills zero fields from defaults.
func (o ServerOption) Merge(defaults ServerOption) ServerOption {
	pick := func(v, d int) int {
		if v > 0 {
			return v
		}
		return d
	}
	pickDur := func(v, d time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return d
	}
	if o.Name == "" {
		o.Name = defaults.Name
	}
	o.MaxRequestBodySize = pick(o.MaxRequestBodySize, defaults.MaxRequestBodySize)
	o.ReadBufferSize = pick(o.ReadBufferSize, defaults.ReadBufferSize)
	o.WriteBufferSize = pick(o.WriteBufferSize, defaults.WriteBufferSize)
	o.Concurrency = pick(o.Concurrency, defaults.Concurrency)
	o.MaxConnsPerIP = pick(o.MaxConnsPerIP, defaults.MaxConnsPerIP)
	o.RecoverThreshold = pick(o.RecoverThreshold, defaults.RecoverThreshold)
	o.ReadTimeout = pickDur(o.ReadTimeout, defaults.ReadTimeout)
	o.WriteTimeout = pickDur(o.WriteTimeout, defaults.WriteTimeout)
	o.IdleTimeout = pickDur(o.IdleTimeout, defaults.IdleTimeout)
	o.MaxIdleWorkerDuration = pickDur(o.MaxIdleWorkerDuration, defaults.MaxIdleWorkerDuration)
	o.TCPKeepalivePeriod = pickDur(o.TCPKeepalivePeriod, defaults.TCPKeepalivePeriod)
	return o
}

type Engine struct {
	*Router
	*Server
	*Prefork
	option ServerOption
	log    logger.Logger
	middle []MiddlewareFunc
}

func newServer(o ServerOption, log logger.Logger) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:               NotFoundHandler,
		Name:                  o.Name,
		Concurrency:           o.Concurrency,
		ReadBufferSize:        o.ReadBufferSize,
		WriteBufferSize:       o.WriteBufferSize,
		ReadTimeout:           o.ReadTimeout,
		WriteTimeout:          o.WriteTimeout,
		IdleTimeout:           o.IdleTimeout,
		MaxConnsPerIP:         o.MaxConnsPerIP,
		MaxIdleWorkerDuration: o.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:    o.TCPKeepalivePeriod,
		MaxRequestBodySize:    o.MaxRequestBodySize,
		TCPKeepalive:          true,
		// multipart forms are parsed by the handlers that accept them
		DisablePreParseMultipartForm: true,
		LogAllErrors:                 true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              true,

		SleepWhenConcurrencyLimitsExceeded: 100 * time.Millisecond,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			log.Warn("[xhttp] request error", "error", err, "path", string(ctx.Path()))
		},
		Logger: log,
	}
}

func NewServer(option ServerOption, log logger.Logger) *Engine {
	option = option.Merge(DefaultServerOption())
	return &Engine{
		Server: newServer(option, log),
		Router: CreateDefaultRouter(),
		option: option,
		log:    log,
	}
}

// CreateServer returns an engine with default options logging through the
// process-wide logger.
func CreateServer() *Engine {
	return NewServer(DefaultServerOption(), logger.Default())
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	e.log.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

func (e *Engine) PreforkListenAndServe(addr string) error {
	e.DoRouting()
	e.Prefork = prefork.New(e.Server)
	e.Prefork.Reuseport = true
	e.Prefork.RecoverThreshold = e.option.RecoverThreshold
	e.Prefork.Logger = e.log
	e.log.Info("[xhttp] prefork server is listening", "addr", addr)
	return e.Prefork.ListenAndServe(addr)
}

// DoRouting installs the router behind the middleware chain. The first
// middleware passed to Use runs first.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			e.log.Debug("[xhttp] route", "method", method, "path", r)
		}
	}

	handler := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		handler = m(handler)
	}
	e.Server.Handler = handler

	for i, m := range e.middle {
		e.log.Debug("[xhttp] middleware registered", "order", i+1, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
}

// Handler returns the routed handler chain, for tests that call it
// without a listener.
func (e *Engine) Handler() RequestHandler {
	e.DoRouting()
	return e.Server.Handler
}

func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown stops accepting connections and waits for active ones.
func (e *Engine) Shutdown() error {
	e.log.Info("[xhttp] server is shutting down", "pid", os.Getpid(), "is_child", prefork.IsChild())
	if e.Prefork != nil {
		e.Prefork.RecoverThreshold = 0
	}
	return e.Server.Shutdown()
}
