// Package presence tracks which live connection speaks for which username and
// pushes device-lock commands to them.
//
// A connection maps to at most one username and a username to at most one
// connection. Every mutation happens under one mutex, so bind and unbind of a
// given connection never interleave.
package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
	"github.com/kaytervn/msa-backend/internal/server/session"
)

// Event is one message on the real-time channel.
type Event struct {
	Cmd  string `json:"cmd"`
	Data any    `json:"data,omitempty"`
}

// Ack is the payload of a CLIENT_PING reply.
type Ack struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

const codeInvalidSession = "INVALID_SESSION"

// Conn is a live connection. Send must not block; it reports whether the
// event was queued.
type Conn interface {
	ID() string
	Send(ev Event) bool
}

// Verifier validates a session token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*session.Claims, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*session.Claims, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (*session.Claims, error) {
	return f(ctx, token)
}

type Broker struct {
	mu     sync.Mutex
	conns  map[string]Conn
	byConn map[string]string
	byUser map[string]string

	// seq numbers lockouts. lockedAt holds the last lockout of a username
	// and allLockedAt the last BroadcastAll. Both are only needed while a
	// ProveIdentity call is verifying, so lockedAt is reset once none is.
	seq         uint64
	lockedAt    map[string]uint64
	allLockedAt uint64
	proving     int

	verifier Verifier
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewBroker(v Verifier, logger logging.Logger, m *metrics.Metrics) *Broker {
	return &Broker{
		conns:    make(map[string]Conn),
		byConn:   make(map[string]string),
		byUser:   make(map[string]string),
		lockedAt: make(map[string]uint64),
		verifier: v,
		logger:   logger.With("module", "presence"),
		metrics:  m,
	}
}

// Register adds a connection that has not proven an identity yet.
func (b *Broker) Register(c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.ID()] = c
}

// ProveIdentity binds connID to the token's username. An invalid token is
// answered on the same connection, which stays open. A lockout of the
// username or of everyone that lands while the token is being verified also
// counts as invalid.
func (b *Broker) ProveIdentity(ctx context.Context, connID, token string) error {
	b.mu.Lock()
	b.proving++
	since := b.seq
	b.mu.Unlock()

	claims, err := b.verifier.Verify(ctx, token)

	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.doneProvingLocked()

	c, ok := b.conns[connID]
	if !ok {
		return common.ErrorNotFound
	}

	if err == nil && b.lockedSinceLocked(claims.Username, since) {
		err = common.ErrInvalidSession
	}
	if err != nil {
		b.unbindConnLocked(connID)
		msg := "Invalid session"
		if errors.Is(err, common.ErrSystemLocked) {
			msg = "System locked"
		}
		c.Send(Event{Cmd: common.CmdClientPing, Data: Ack{Success: false, Code: codeInvalidSession, Message: msg}})
		return err
	}

	b.unbindConnLocked(connID)
	if old, ok := b.byUser[claims.Username]; ok {
		delete(b.byConn, old)
	}
	b.byConn[connID] = claims.Username
	b.byUser[claims.Username] = connID

	c.Send(Event{Cmd: common.CmdClientPing, Data: Ack{Success: true, Message: "Connected"}})
	b.logger.Debug(ctx, "identity bound", "conn_id", connID, "username", claims.Username)
	return nil
}

func (b *Broker) lockedSinceLocked(username string, since uint64) bool {
	return b.allLockedAt > since || b.lockedAt[username] > since
}

func (b *Broker) doneProvingLocked() {
	b.proving--
	if b.proving == 0 && len(b.lockedAt) > 0 {
		b.lockedAt = make(map[string]uint64)
	}
}

// Disconnect forgets the connection and any binding it held.
func (b *Broker) Disconnect(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbindConnLocked(connID)
	delete(b.conns, connID)
}

func (b *Broker) unbindConnLocked(connID string) {
	if u, ok := b.byConn[connID]; ok {
		delete(b.byConn, connID)
		if b.byUser[u] == connID {
			delete(b.byUser, u)
		}
	}
}

// ForceLogout pushes one device-lock command to the live connection of
// username, if any, and unbinds it. Offline users are skipped silently.
func (b *Broker) ForceLogout(ctx context.Context, username string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.proving > 0 {
		b.seq++
		b.lockedAt[username] = b.seq
	}

	connID, ok := b.byUser[username]
	if !ok {
		return
	}
	if c, ok := b.conns[connID]; ok {
		if !c.Send(Event{Cmd: common.CmdLockDevice}) {
			b.logger.Warn(ctx, "lock command dropped", "conn_id", connID)
		}
		b.metrics.IncForcedLogouts(1)
	}
	b.unbindConnLocked(connID)
	b.logger.Info(ctx, "device locked", "username", username)
}

// BroadcastAll pushes device-lock to every live connection and drops all
// bindings. It returns the number of connections notified.
func (b *Broker) BroadcastAll(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.allLockedAt = b.seq

	n := 0
	for _, c := range b.conns {
		if c.Send(Event{Cmd: common.CmdLockDevice}) {
			n++
		}
	}
	b.byConn = make(map[string]string)
	b.byUser = make(map[string]string)

	b.metrics.IncForcedLogouts(n)
	b.logger.Info(ctx, "all devices locked", "connections", n)
	return n
}

// Identity returns the username bound to connID.
func (b *Broker) Identity(connID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.byConn[connID]
	return u, ok
}

// Online reports whether username has a bound connection.
func (b *Broker) Online(username string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byUser[username]
	return ok
}
