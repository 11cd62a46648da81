// Package tests runs the gateway end to end over real TCP sockets: a
// bound server, raw HTTP/1.1 requests, and a standards-compliant
// WebSocket client against the hand-rolled frame loop.
package tests

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantegy/ordergate/params"
	"github.com/quantegy/ordergate/pkg/auth"
	"github.com/quantegy/ordergate/pkg/cache"
	"github.com/quantegy/ordergate/pkg/core"
	"github.com/quantegy/ordergate/pkg/engine"
	"github.com/quantegy/ordergate/pkg/server"
	"github.com/quantegy/ordergate/pkg/storage"
	"github.com/quantegy/ordergate/pkg/util"
)

type gateway struct {
	addr  string
	priv  *rsa.PrivateKey
	store *storage.Memory
}

func startGateway(t *testing.T) *gateway {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	require.NoError(t, err)

	store := storage.NewMemory()
	store.SeedProduct(core.Product{ProductID: 7, Symbol: "BBCA", Name: "Bank Central Asia"})
	store.SeedProduct(core.Product{ProductID: 8, Symbol: "TLKM", Name: "Telkom Indonesia"})
	store.SeedAccount(42, 1_000_000)
	store.SeedAccount(43, 50_000)

	eng := engine.New(store, cache.NewMemory(), nil, util.RealClock{}, zap.NewNop().Sugar(), nil)

	cfg := params.Server{
		ListenAddr:     "127.0.0.1:0",
		ReadTimeout:    2 * time.Second,
		WSIdleTimeout:  2 * time.Second,
		SessionWorkers: 16,
		SessionBacklog: 16,
	}
	srv := server.New(cfg, eng, verifier, zap.NewNop().Sugar(), nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &gateway{addr: srv.Addr().String(), priv: priv, store: store}
}

func (g *gateway) token(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.priv)
	require.NoError(t, err)
	return token
}

// request opens a fresh TCP connection, sends one raw request and
// returns everything the server wrote back.
func (g *gateway) request(t *testing.T, raw string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", g.addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func (g *gateway) get(t *testing.T, path, token string) string {
	return g.request(t, "GET "+path+" HTTP/1.1\r\nAuthorization: Bearer "+token+"\r\n\r\n")
}

func envelopeOf(t *testing.T, resp string) core.Envelope {
	t.Helper()
	i := strings.Index(resp, "\r\n\r\n")
	require.GreaterOrEqual(t, i, 0, "no header break in %q", resp)
	var envelope core.Envelope
	require.NoError(t, json.Unmarshal([]byte(resp[i+4:]), &envelope), "body %q", resp[i+4:])
	return envelope
}

func TestGateway_WebSocketOrderRoundTrip(t *testing.T) {
	g := startGateway(t)
	token := g.token(t, "42", time.Hour)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial("ws://"+g.addr+"/order/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	order := `{"symbol":"BBCA","side":"B","price":9000,"lot":1,"expiry":"GTC"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(order)))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope core.Envelope
	require.NoError(t, json.Unmarshal(reply, &envelope))
	assert.Equal(t, "ok", envelope.Status)
	assert.Equal(t, "1", envelope.Message)

	account, err := g.store.AccountByUserID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), account.Balance)
	assert.Equal(t, int64(900_000), account.InvestedValue)
}

func TestGateway_WebSocketRejectionsKeepSessionOpen(t *testing.T) {
	g := startGateway(t)
	token := g.token(t, "43", time.Hour)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial("ws://"+g.addr+"/order/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(payload string) core.Envelope {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, reply, err := conn.ReadMessage()
		require.NoError(t, err)
		var envelope core.Envelope
		require.NoError(t, json.Unmarshal(reply, &envelope))
		return envelope
	}

	// User 43 has 50_000; notional 9000*1*100 = 900_000.
	broke := send(`{"symbol":"BBCA","side":"B","price":9000,"lot":1,"expiry":"GTC"}`)
	assert.Equal(t, "error", broke.Status)
	assert.Equal(t, "NOT_ENOUGH_FUNDS", broke.Message)

	naked := send(`{"symbol":"BBCA","side":"S","price":9000,"lot":1,"expiry":"GTC"}`)
	assert.Equal(t, "error", naked.Status)
	assert.Equal(t, "NOT_ENOUGH_HOLDINGS", naked.Message)

	badExpiry := send(`{"symbol":"BBCA","side":"B","price":100,"lot":1,"expiry":"IOC"}`)
	assert.Equal(t, "error", badExpiry.Status)

	// The session survived three rejections.
	accepted := send(`{"symbol":"BBCA","side":"B","price":100,"lot":1,"expiry":"GFD"}`)
	assert.Equal(t, "ok", accepted.Status)
}

func TestGateway_ExpiredTokenRejectedBeforeUpgrade(t *testing.T) {
	g := startGateway(t)
	token := g.token(t, "42", -time.Minute)

	resp := g.request(t, "GET /order/ws?token="+token+" HTTP/1.1\r\n"+
		"Upgrade: websocket\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 401 Unauthorized\r\n\r\n401 unauthorized", resp)
}

func TestGateway_OversizeRequest(t *testing.T) {
	g := startGateway(t)

	conn, err := net.DialTimeout("tcp", g.addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte(strings.Repeat("A", 4096)))
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\n\r\nRequest too large", string(resp))
}

func TestGateway_PostOrderUsesTokenIdentity(t *testing.T) {
	g := startGateway(t)
	token := g.token(t, "42", time.Hour)

	body := `{"symbol":"TLKM","side":"B","price":30,"lot":2,"expiry":"GTC","user_id":43}`
	resp := g.request(t, "POST /order HTTP/1.1\r\n"+
		"Authorization: Bearer "+token+"\r\n"+
		"Content-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)

	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK"), "response %q", resp)
	envelope := envelopeOf(t, resp)
	assert.Equal(t, "ok", envelope.Status)

	account, err := g.store.AccountByUserID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(994_000), account.Balance)

	bystander, err := g.store.AccountByUserID(context.Background(), 43)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), bystander.Balance)
}

func TestGateway_ListEndpoints(t *testing.T) {
	g := startGateway(t)
	token := g.token(t, "42", time.Hour)

	body := `{"symbol":"BBCA","side":"B","price":9000,"lot":1,"expiry":"GTC"}`
	resp := g.request(t, "POST /order HTTP/1.1\r\n"+
		"Authorization: Bearer "+token+"\r\n"+
		"Content-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK"), "response %q", resp)

	orders := envelopeOf(t, g.get(t, "/order", token))
	require.Equal(t, "ok", orders.Status)
	list, ok := orders.Message.([]any)
	require.True(t, ok, "message %T", orders.Message)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, "BBCA", entry["symbol"])
	assert.Equal(t, "B", entry["side"])

	portfolios := envelopeOf(t, g.get(t, "/portfolio", token))
	require.Equal(t, "ok", portfolios.Status)
	plist := portfolios.Message.([]any)
	require.Len(t, plist, 1)
	position := plist[0].(map[string]any)
	assert.Equal(t, "BBCA", position["product_symbol"])
	assert.Equal(t, float64(1), position["lot"])

	account := envelopeOf(t, g.get(t, "/account", token))
	require.Equal(t, "ok", account.Status)
	snapshot := account.Message.(map[string]any)
	assert.Equal(t, float64(100_000), snapshot["balance"])
	assert.Equal(t, float64(900_000), snapshot["invested_value"])
}

func TestGateway_UnknownRouteAndMissingAuth(t *testing.T) {
	g := startGateway(t)
	token := g.token(t, "42", time.Hour)

	assert.Equal(t, "HTTP/1.1 404 NOT FOUND\r\n\r\n404 Not Found",
		g.request(t, "GET /nope HTTP/1.1\r\nAuthorization: Bearer "+token+"\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 401 Unauthorized\r\n\r\n401 unauthorized",
		g.request(t, "GET /account HTTP/1.1\r\n\r\n"))
}
