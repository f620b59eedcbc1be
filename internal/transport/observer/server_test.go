package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/observerproto"
)

func testConfig() config.Config {
	cfg := config.Config{
		DefaultWorldID: "w",
		Worlds: []config.WorldSpec{
			{ID: "w", Distance: 100, Height: 120, XOffset: 5},
			{ID: "nether", Distance: 100, Height: 60, UseOwnGenerator: true},
		},
	}
	cfg.Normalize()
	return cfg
}

func dial(t *testing.T, srv *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.WriteJSON(sub))
	return conn
}

func TestServer_StreamsFilteredEvents(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Worlds:          []string{"nether"},
	})
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, s.OnAllocationEvent(ctx, alloc.Event{Seq: 1, Phase: alloc.PhaseReserved, World: "w", Requester: uuid.New()}))
	require.NoError(t, s.OnAllocationEvent(ctx, alloc.Event{Seq: 2, Phase: alloc.PhaseReserved, World: "nether", Requester: uuid.New()}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.EventMsg
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, observerproto.TypeAllocationEvent, msg.Type)
	assert.EqualValues(t, 2, msg.Event.Seq)
	assert.Equal(t, "nether", msg.Event.World)
}

func TestServer_ResubscribeChangesFilter(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Worlds:          []string{"nether"},
	})
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		FailuresOnly:    true,
	}))
	ev := alloc.Event{Seq: 9, Phase: alloc.PhaseFailed, World: "w", Requester: uuid.New()}
	// The filter update races the first publish; keep publishing until seen.
	got := make(chan observerproto.EventMsg, 1)
	go func() {
		var msg observerproto.EventMsg
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
		close(got)
	}()
	var msg observerproto.EventMsg
	require.Eventually(t, func() bool {
		_ = s.OnAllocationEvent(context.Background(), ev)
		select {
		case m, ok := <-got:
			msg = m
			return ok
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 9, msg.Event.Seq)
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Zero(t, s.Subscribers())
}

func TestServer_Bootstrap(t *testing.T) {
	s := NewServer(testConfig(), func() int { return 3 }, nil)
	srv := httptest.NewServer(s.BootstrapHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var boot observerproto.BootstrapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&boot))
	assert.Equal(t, "w", boot.DefaultWorldID)
	assert.Equal(t, 3, boot.Islands)
	require.Len(t, boot.Worlds, 2)
	assert.Equal(t, "nether", boot.Worlds[0].WorldID)
	assert.Equal(t, [3]int{5, 120, 0}, boot.Worlds[1].Origin)
	assert.Equal(t, config.DefaultBlockedCeiling, boot.Worlds[1].BlockedCeiling)
}

func TestMatches(t *testing.T) {
	id := uuid.New()
	ev := alloc.Event{Phase: alloc.PhaseCompleted, World: "w", Requester: id}
	assert.True(t, matches(observerproto.SubscribeMsg{}, ev))
	assert.True(t, matches(observerproto.SubscribeMsg{Requester: strings.ToUpper(id.String())}, ev))
	assert.False(t, matches(observerproto.SubscribeMsg{Requester: uuid.NewString()}, ev))
	assert.False(t, matches(observerproto.SubscribeMsg{FailuresOnly: true}, ev))
	assert.False(t, matches(observerproto.SubscribeMsg{Worlds: []string{"nether"}}, ev))
}

func TestIsLoopbackRemote(t *testing.T) {
	assert.True(t, isLoopbackRemote("127.0.0.1:4000"))
	assert.True(t, isLoopbackRemote("[::1]:4000"))
	assert.False(t, isLoopbackRemote("10.0.0.2:4000"))
	assert.False(t, isLoopbackRemote("garbage"))
}
