package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreyShupe/BentoBox/internal/protocol"
)

// fakeIslandServer answers every island request with REGISTERED then the
// given final stage.
func fakeIslandServer(t *testing.T, final string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "s1", DefaultWorldID: "w"})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, _ := protocol.DecodeBase(msg)
			if base.Type != protocol.TypeCreateIsland && base.Type != protocol.TypeResetIsland {
				continue
			}
			var req protocol.IslandReqMsg
			_ = json.Unmarshal(msg, &req)
			center := [3]int{0, 120, 0}
			_ = conn.WriteJSON(protocol.IslandResultMsg{Type: protocol.TypeIslandResult, ReqID: req.ReqID, Stage: protocol.StageRegistered, Center: &center})
			res := protocol.IslandResultMsg{Type: protocol.TypeIslandResult, ReqID: req.ReqID, Stage: final}
			if final == protocol.StageReady {
				res.PlotID = uuid.NewString()
				res.Center = &center
			} else {
				res.Code = protocol.ErrBlocked
			}
			_ = conn.WriteJSON(res)
		}
	}))
}

func newTestBot(url string, resets int) *bot {
	return &bot{
		url:    "ws" + strings.TrimPrefix(url, "http"),
		resets: resets,
		log:    log.New(io.Discard, "", 0),
		ready:  &atomic.Int64{},
		failed: &atomic.Int64{},
	}
}

func TestBot_CreateAndResets(t *testing.T) {
	srv := fakeIslandServer(t, protocol.StageReady)
	defer srv.Close()

	b := newTestBot(srv.URL, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.run(ctx, uuid.New()))
	assert.EqualValues(t, 3, b.ready.Load())
	assert.Zero(t, b.failed.Load())
}

func TestBot_StopsOnFailure(t *testing.T) {
	srv := fakeIslandServer(t, protocol.StageFailed)
	defer srv.Close()

	b := newTestBot(srv.URL, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.run(ctx, uuid.New()))
	assert.Zero(t, b.ready.Load())
	assert.EqualValues(t, 1, b.failed.Load())
}
