// Package integration pushes optimization decisions to an external
// endpoint over WebSocket, so deployment tooling can react to new
// recommendations without polling the API.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/pkg/retry"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

// Name is the service name the integration registers under
const Name = "integration"

// DecisionStream provides the decisions to push, normally the processor
type DecisionStream interface {
	OnDecision() <-chan types.Decision
}

// Config tunes the WebSocket push client
type Config struct {
	Endpoint     string // ws:// or wss:// URL
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Client subscribes to computed decisions and forwards each one as a JSON
// message. Connection loss is handled with capped exponential backoff;
// decisions computed while disconnected are dropped, not queued, since
// the store remains the source of truth.
type Client struct {
	*service.BaseService

	cfg    Config
	stream DecisionStream
	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnects atomic.Int32
	pushed     atomic.Int64
	dropped    atomic.Int64
}

// New creates the integration service
func New(cfg Config, stream DecisionStream, opts ...service.Option) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		stream: stream,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	c.BaseService = service.NewBaseService(Name, opts...)
	return c
}

// Start connects to the endpoint and begins forwarding decisions
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("%w: integration endpoint not configured", errors.ErrMissingConfig)
	}
	if c.stream == nil {
		return fmt.Errorf("%w: integration requires a decision stream", errors.ErrInvalidConfig)
	}

	if err := c.BaseService.Start(ctx); err != nil {
		return err
	}

	decisions := c.stream.OnDecision()
	done := c.Done()

	c.Go(func() { c.run(done, decisions) })

	c.Logger().Info("decision push started", "endpoint", c.cfg.Endpoint)
	return nil
}

// run owns the connection: it dials with backoff, forwards decisions, and
// keeps the connection alive with pings.
func (c *Client) run(done <-chan struct{}, decisions <-chan types.Decision) {
	backoff := retry.Reconnect()
	attempt := 0

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()
	defer c.closeConn()

	for {
		if c.getConn() == nil {
			if err := c.dial(); err != nil {
				delay := backoff.Backoff(attempt)
				attempt++
				c.Logger().Warn("endpoint dial failed",
					"endpoint", c.cfg.Endpoint, "attempt", attempt, "backoff", delay, "error", err)
				c.MarkDegraded()

				select {
				case <-done:
					return
				case d := <-decisions:
					c.dropped.Add(1)
					c.Logger().Debug("dropping decision while disconnected", "workload", d.Workload)
				case <-time.After(delay):
				}
				continue
			}
			attempt = 0
			c.MarkRunning()
		}

		select {
		case <-done:
			return
		case d := <-decisions:
			if err := c.push(d); err != nil {
				c.Logger().Warn("decision push failed, reconnecting",
					"workload", d.Workload, "error", err)
				c.dropped.Add(1)
				c.closeConn()
			}
		case <-pingTicker.C:
			if err := c.ping(); err != nil {
				c.Logger().Warn("endpoint ping failed, reconnecting", "error", err)
				c.closeConn()
			}
		}
	}
}

func (c *Client) dial() error {
	conn, resp, err := c.dialer.Dial(c.cfg.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.WrapTransient(err, "Client", "dial", "connect to "+c.cfg.Endpoint)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.reconnects.Add(1)
	c.Logger().Info("connected to integration endpoint", "endpoint", c.cfg.Endpoint)
	return nil
}

func (c *Client) getConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// push writes one decision as a JSON text message
func (c *Client) push(d types.Decision) error {
	conn := c.getConn()
	if conn == nil {
		return errors.ErrNoConnection
	}

	data, err := json.Marshal(d)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "push", "marshal decision")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "Client", "push", "write decision")
	}

	c.pushed.Add(1)
	return nil
}

func (c *Client) ping() error {
	conn := c.getConn()
	if conn == nil {
		return errors.ErrNoConnection
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// Stop closes the connection and the forwarding loop
func (c *Client) Stop(timeout time.Duration) error {
	err := c.BaseService.Stop(timeout)
	c.closeConn()
	return err
}

// Pushed returns how many decisions were delivered
func (c *Client) Pushed() int64 {
	return c.pushed.Load()
}

// Dropped returns how many decisions were dropped while disconnected
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// HealthCheck reports connection health. Disconnected but retrying is
// reported unhealthy so the supervisor sees the outage; the client keeps
// its own reconnect loop, so Recover does not restart it.
func (c *Client) HealthCheck(_ context.Context) (health.CheckResult, error) {
	switch c.State() {
	case service.StateRunning:
		return health.Healthy("connected to endpoint").
			WithMetadata("pushed", fmt.Sprintf("%d", c.Pushed())), nil
	case service.StateDegraded:
		return health.Unhealthy("endpoint disconnected, reconnecting").
			WithMetadata("dropped", fmt.Sprintf("%d", c.Dropped())), nil
	default:
		return health.Unhealthy(fmt.Sprintf("integration is %s", c.State())), nil
	}
}

// Recover nudges the reconnect loop by dropping the current connection
func (c *Client) Recover(_ context.Context) error {
	c.Logger().Info("recovering integration by forcing reconnect")
	c.closeConn()
	return nil
}
