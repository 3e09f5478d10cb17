// Package realtime is the websocket side of presence. Each connection runs a
// read loop plus writer and heartbeat goroutines, and talks to the broker
// only through its locked methods.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
	"github.com/kaytervn/msa-backend/internal/server/presence"
)

const (
	defaultSendQueue        = 32
	defaultWriteTimeout     = 5 * time.Second
	defaultHeartbeatEvery   = 30 * time.Second
	defaultHeartbeatTimeout = 10 * time.Second
	maxPingFailures         = 3
	maxFrameBytes           = 16 << 10
	closeGrace              = time.Second
)

// Broker is the presence state the gateway drives.
type Broker interface {
	Register(c presence.Conn)
	ProveIdentity(ctx context.Context, connID, token string) error
	Disconnect(connID string)
}

// Options tune the gateway. Zero values take the defaults.
type Options struct {
	OriginPatterns   []string
	SendQueue        int
	WriteTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.SendQueue <= 0 {
		o.SendQueue = defaultSendQueue
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = defaultHeartbeatEvery
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

type Gateway struct {
	broker   Broker
	verifier presence.Verifier
	opts     Options
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewGateway(b Broker, v presence.Verifier, opts Options, logger logging.Logger, m *metrics.Metrics) *Gateway {
	opts.setDefaults()
	return &Gateway{
		broker:   b,
		verifier: v,
		opts:     opts,
		logger:   logger.With("module", "realtime"),
		metrics:  m,
	}
}

type inbound struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

type pingData struct {
	Token string `json:"token"`
}

// client is one connection as the broker sees it. send is never closed so
// concurrent broadcasters cannot panic.
type client struct {
	id        string
	send      chan presence.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, queue int) *client {
	return &client{id: id, send: make(chan presence.Event, queue), done: make(chan struct{})}
}

func (c *client) ID() string { return c.id }

func (c *client) Send(ev presence.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func handshakeToken(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get(common.AuthorizationHeaderName), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP authenticates the upgrade request and runs the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if _, err := g.verifier.Verify(r.Context(), token); err != nil {
		g.logger.Info(r.Context(), "socket rejected", "remote", r.RemoteAddr, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"code":"INVALID_SESSION","message":"Invalid session"}`))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.opts.OriginPatterns})
	if err != nil {
		g.logger.Warn(r.Context(), "socket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newClient(uuid.NewString(), g.opts.SendQueue)
	g.broker.Register(c)
	g.metrics.ConnectionOpened()

	var shutdownOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		shutdownOnce.Do(func() {
			g.broker.Disconnect(c.id)
			g.metrics.ConnectionClosed()
			c.close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, c, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, c, shutdown)
	}()

	_ = g.broker.ProveIdentity(ctx, c.id, token)
	g.readLoop(ctx, conn, c)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// readLoop has no idle deadline: a quiet client stays bound as long as it
// answers heartbeat pings.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				g.logger.Debug(ctx, "socket read ended", "conn_id", c.id, "error", err)
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.logger.Debug(ctx, "bad socket frame", "conn_id", c.id)
			continue
		}

		switch in.Cmd {
		case common.CmdClientPing:
			var p pingData
			_ = json.Unmarshal(in.Data, &p)
			_ = g.broker.ProveIdentity(ctx, c.id, p.Token)
		default:
			g.logger.Debug(ctx, "unsupported socket command", "conn_id", c.id, "cmd", in.Cmd)
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, c *client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				g.logger.Info(ctx, "socket write failed", "conn_id", c.id, "error", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, c *client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.opts.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.opts.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()
			if err != nil {
				failures++
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}
