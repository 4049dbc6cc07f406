package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/guildgate/pkg/jwt"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/memory"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/token"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/application"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/session"
)

type gateway struct {
	jwt       jwt.Manager
	registry  *ConnectionManager
	lifecycle *application.LifecycleService
	store     *memory.PresenceStore
	srv       *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	mgr := jwt.NewManager("test-secret")
	registry := NewConnectionManager()
	store := memory.NewPresenceStore()
	dir := memory.NewDirectory()
	dir.PutGuild(entity.Guild{ID: 10, OwnerID: 99}, entity.PermissionViewChannel)
	dir.PutMember(entity.GuildMember{GuildID: 10, UserID: 1})

	presence := application.NewPresenceService(store, dir)
	lifecycle := application.NewLifecycleService(
		token.NewJWTCodec(mgr), registry, presence,
		session.Timing{WarningLead: time.Minute, Grace: time.Second},
	)
	srv := httptest.NewServer(http.HandlerFunc(NewServer(lifecycle, Options{}).HandleConnection))
	t.Cleanup(func() {
		lifecycle.Shutdown(context.Background())
		srv.Close()
	})
	return &gateway{jwt: mgr, registry: registry, lifecycle: lifecycle, store: store, srv: srv}
}

func (g *gateway) dial(t *testing.T, tok string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/?client_type=desktop&token=" + url.QueryEscape(tok)
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (g *gateway) token(t *testing.T, userID uint64, ttl time.Duration) string {
	t.Helper()
	tok, err := g.jwt.Generate(userID, ttl)
	require.NoError(t, err)
	return tok
}

func readFrame(t *testing.T, c *websocket.Conn) entity.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var f entity.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHandshakeSendsReady(t *testing.T) {
	g := newGateway(t)
	c := g.dial(t, g.token(t, 1, time.Hour))

	f := readFrame(t, c)
	require.Equal(t, entity.EventReady, f.Event)
	var ready application.ReadyPayload
	require.NoError(t, json.Unmarshal(f.Data, &ready))
	assert.Equal(t, uint64(1), ready.UserID)
	assert.NotEmpty(t, ready.SessionID)

	conns := g.registry.ConnectionsOf(1)
	require.Len(t, conns, 1)
	assert.Equal(t, entity.ClientTypeDesktop, conns[0].Info().ClientType)

	members, err := g.store.Members(context.Background(), entity.GuildScope(10))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, members)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	g := newGateway(t)
	c := g.dial(t, "garbage")

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4001, ce.Code)
	assert.Equal(t, 0, g.lifecycle.SessionCount())
}

func TestPingAndRefresh(t *testing.T) {
	g := newGateway(t)
	c := g.dial(t, g.token(t, 1, time.Hour))
	require.Equal(t, entity.EventReady, readFrame(t, c).Event)

	require.NoError(t, c.WriteJSON(ClientMessage{Op: OpPing}))
	assert.Equal(t, entity.EventPong, readFrame(t, c).Event)

	require.NoError(t, c.WriteJSON(ClientMessage{Op: OpRefresh, Token: g.token(t, 1, 2*time.Hour)}))
	assert.Equal(t, entity.EventSessionRefreshed, readFrame(t, c).Event)

	require.NoError(t, c.WriteJSON(ClientMessage{Op: OpRefresh, Token: g.token(t, 2, 2*time.Hour)}))
	f := readFrame(t, c)
	require.Equal(t, entity.EventError, f.Event)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &ep))
	assert.Equal(t, "invalid token", ep.Message)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, entity.EventError, readFrame(t, c).Event)
}

func TestClientCloseClearsPresence(t *testing.T) {
	g := newGateway(t)
	c := g.dial(t, g.token(t, 1, time.Hour))
	require.Equal(t, entity.EventReady, readFrame(t, c).Event)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool {
		return g.lifecycle.SessionCount() == 0 && g.registry.Stats().Connections == 0
	}, 3*time.Second, 10*time.Millisecond)

	entry, err := g.store.GetEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))
}
