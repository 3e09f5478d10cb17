package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/presence"
	"github.com/kaytervn/msa-backend/internal/server/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*session.Claims, error) {
	if u, ok := strings.CutPrefix(token, "ok:"); ok {
		return &session.Claims{Username: u, SessionID: "s-" + u}, nil
	}
	return nil, common.ErrInvalidSession
}

type received struct {
	Cmd  string `json:"cmd"`
	Data struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

func startGateway(t *testing.T) (*presence.Broker, string) {
	t.Helper()
	return startGatewayWith(t, Options{HeartbeatEvery: time.Hour})
}

func startGatewayWith(t *testing.T, opts Options) (*presence.Broker, string) {
	t.Helper()
	broker := presence.NewBroker(tokenVerifier{}, logging.Nop{}, nil)
	gw := NewGateway(broker, tokenVerifier{}, opts, logging.Nop{}, nil)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return broker, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: h})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev received
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	return ev
}

func TestGateway_RejectsWithoutValidToken(t *testing.T) {
	_, url := startGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, url+"?token=bad", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_BindsAtHandshakeAndReceivesLock(t *testing.T) {
	broker, url := startGateway(t)
	conn := dial(t, url, "ok:alice")

	ack := readEvent(t, conn)
	assert.Equal(t, common.CmdClientPing, ack.Cmd)
	assert.True(t, ack.Data.Success)
	require.Eventually(t, func() bool { return broker.Online("alice") }, time.Second, 10*time.Millisecond)

	broker.ForceLogout(context.Background(), "alice")
	lock := readEvent(t, conn)
	assert.Equal(t, common.CmdLockDevice, lock.Cmd)
	assert.False(t, broker.Online("alice"))
}

func TestGateway_ClientPingRebinds(t *testing.T) {
	broker, url := startGateway(t)
	conn := dial(t, url, "ok:alice")
	_ = readEvent(t, conn)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"cmd": common.CmdClientPing, "data": map[string]string{"token": "bad"}}))
	nack := readEvent(t, conn)
	assert.False(t, nack.Data.Success)
	assert.Equal(t, "INVALID_SESSION", nack.Data.Code)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"cmd": common.CmdClientPing, "data": map[string]string{"token": "ok:bob"}}))
	ack := readEvent(t, conn)
	assert.True(t, ack.Data.Success)
	require.Eventually(t, func() bool { return broker.Online("bob") }, time.Second, 10*time.Millisecond)
}

func TestGateway_CloseRemovesPresence(t *testing.T) {
	broker, url := startGateway(t)
	conn := dial(t, url, "ok:alice")
	_ = readEvent(t, conn)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	require.Eventually(t, func() bool { return !broker.Online("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_QuietClientAnsweringPingsStaysBound(t *testing.T) {
	broker, url := startGatewayWith(t, Options{HeartbeatEvery: 20 * time.Millisecond, HeartbeatTimeout: time.Second})
	conn := dial(t, url, "ok:alice")
	_ = readEvent(t, conn)

	// CloseRead keeps reading in the background, which answers pings.
	ctx := conn.CloseRead(context.Background())
	require.Eventually(t, func() bool { return broker.Online("alice") }, time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.True(t, broker.Online("alice"))
	assert.NoError(t, ctx.Err())
}

func TestGateway_UnresponsiveClientIsDropped(t *testing.T) {
	broker, url := startGatewayWith(t, Options{HeartbeatEvery: 20 * time.Millisecond, HeartbeatTimeout: 20 * time.Millisecond})
	conn := dial(t, url, "ok:alice")
	_ = readEvent(t, conn)

	// the client never reads again, so pongs are never sent
	require.Eventually(t, func() bool { return !broker.Online("alice") }, 3*time.Second, 10*time.Millisecond)
}

func TestGateway_BroadcastReachesEveryone(t *testing.T) {
	broker, url := startGateway(t)
	a := dial(t, url, "ok:alice")
	b := dial(t, url, "ok:bob")
	_ = readEvent(t, a)
	_ = readEvent(t, b)

	broker.BroadcastAll(context.Background())
	assert.Equal(t, common.CmdLockDevice, readEvent(t, a).Cmd)
	assert.Equal(t, common.CmdLockDevice, readEvent(t, b).Cmd)
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	c := newClient("c1", 1)
	assert.True(t, c.Send(presence.Event{Cmd: "x"}))
	assert.False(t, c.Send(presence.Event{Cmd: "y"}), "full queue drops")
	c.close()
	c.close()
	<-c.send
	assert.False(t, c.Send(presence.Event{Cmd: "z"}))
}
