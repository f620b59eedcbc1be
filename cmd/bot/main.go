package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/CoreyShupe/BentoBox/internal/protocol"
)

// bot connects as one player, creates an island and optionally resets it.
type bot struct {
	url    string
	world  string
	resets int
	log    *log.Logger

	ready  *atomic.Int64
	failed *atomic.Int64
}

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		world   = flag.String("world", "", "world id (default: server default)")
		players = flag.Int("players", 1, "number of concurrent players")
		resets  = flag.Int("resets", 0, "resets per player after creating")
		timeout = flag.Duration("timeout", time.Minute, "overall deadline")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelT := context.WithTimeout(ctx, *timeout)
	defer cancelT()

	var ready, failed atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *players; i++ {
		b := &bot{url: *url, world: *world, resets: *resets, log: logger, ready: &ready, failed: &failed}
		g.Go(func() error { return b.run(gctx, uuid.New()) })
	}
	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
	logger.Printf("done players=%d ready=%d failed=%d elapsed=%s", *players, ready.Load(), failed.Load(), time.Since(start).Round(time.Millisecond))
	if failed.Load() > 0 {
		os.Exit(1)
	}
}

func (b *bot) run(ctx context.Context, requester uuid.UUID) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Requester:       requester.String(),
		Name:            "bot-" + requester.String()[:8],
	}); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	reqType := protocol.TypeCreateIsland
	for n := 0; n <= b.resets; n++ {
		reqID := fmt.Sprintf("%s_%d", reqType, n)
		if err := conn.WriteJSON(protocol.IslandReqMsg{
			Type:            reqType,
			ProtocolVersion: protocol.Version,
			ReqID:           reqID,
			World:           b.world,
		}); err != nil {
			return fmt.Errorf("send %s: %w", reqType, err)
		}
		res, err := b.await(conn, reqID)
		if err != nil {
			return err
		}
		if res.Stage != protocol.StageReady {
			b.failed.Add(1)
			b.log.Printf("%s %s failed code=%s key=%s", requester, reqType, res.Code, res.MessageKey)
			return nil
		}
		b.ready.Add(1)
		b.log.Printf("%s %s ready plot=%s center=%v", requester, reqType, res.PlotID, res.Center)
		reqType = protocol.TypeResetIsland
	}
	return nil
}

// await reads until reqID reaches READY or FAILED, logging anything else.
func (b *bot) await(conn *websocket.Conn, reqID string) (protocol.IslandResultMsg, error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return protocol.IslandResultMsg{}, err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err == nil {
				b.log.Printf("WELCOME session=%s default_world=%s worlds=%d", w.SessionID, w.DefaultWorldID, len(w.Worlds))
			}
		case protocol.TypeNotice, protocol.TypeTeleport:
			b.log.Printf("%s", msg)
		case protocol.TypeIslandResult:
			var res protocol.IslandResultMsg
			if err := json.Unmarshal(msg, &res); err != nil || res.ReqID != reqID {
				continue
			}
			if res.Stage == protocol.StageReady || res.Stage == protocol.StageFailed {
				return res, nil
			}
		}
	}
}
