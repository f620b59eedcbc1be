package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/protocol"
	"github.com/CoreyShupe/BentoBox/internal/registry"
)

type Allocator interface {
	Allocate(ctx context.Context, req alloc.Request) (registry.Plot, error)
}

// Plots answers which island a player already has.
type Plots interface {
	PlotFor(world string, owner uuid.UUID) (registry.Plot, bool)
}

// Server accepts island commands from game clients over websocket.
type Server struct {
	cfg      config.Config
	alloc    Allocator
	plots    Plots
	sessions *Sessions
	log      *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(cfg config.Config, a Allocator, plots Plots, sessions *Sessions, logger *log.Logger) *Server {
	return &Server{
		cfg:      cfg,
		alloc:    a,
		plots:    plots,
		sessions: sessions,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		if old := s.sessions.attach(sess); old != nil {
			s.logf("ws: %s replaced session %s of %s", sess.id, old.id, sess.requester)
		}
		defer s.sessions.detach(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeCreateIsland && base.Type != protocol.TypeResetIsland {
				continue
			}
			var req protocol.IslandReqMsg
			if err := json.Unmarshal(msg, &req); err != nil || req.ProtocolVersion != protocol.Version {
				s.reply(sess, protocol.IslandResultMsg{
					ReqID:   req.ReqID,
					Stage:   protocol.StageFailed,
					Code:    protocol.ErrProtoBadRequest,
					Message: "bad island request",
				})
				continue
			}
			go s.handleIsland(ctx, sess, req)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}
	requester, err := uuid.Parse(strings.TrimSpace(hello.Requester))
	if err != nil || requester == uuid.Nil {
		closeWith(conn, "bad requester")
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	sess := &session{
		id:        fmt.Sprintf("S%d", s.nextID.Add(1)),
		requester: requester,
		out:       make(chan []byte, maxQ),
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Requester:       requester.String(),
		DefaultWorldID:  s.cfg.DefaultWorldID,
	}
	for _, id := range s.cfg.WorldIDs() {
		w, _ := s.cfg.WorldByID(id)
		welcome.Worlds = append(welcome.Worlds, protocol.WorldRef{WorldID: w.ID, Distance: w.Distance, Height: w.Height})
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) handleIsland(ctx context.Context, sess *session, msg protocol.IslandReqMsg) {
	world := msg.World
	if world == "" {
		world = s.cfg.DefaultWorldID
	}
	req := alloc.Request{
		Requester: sess.requester,
		World:     world,
		Reason:    alloc.ReasonCreate,
		Bundle:    msg.Bundle,
		NoPaste:   msg.NoPaste,
	}

	existing, has := s.plots.PlotFor(world, sess.requester)
	switch msg.Type {
	case protocol.TypeResetIsland:
		if !has {
			s.reply(sess, protocol.IslandResultMsg{ReqID: msg.ReqID, Stage: protocol.StageFailed, World: world, Code: protocol.ErrNoIsland, MessageKey: protocol.KeyNoIsland})
			return
		}
		req.Reason = alloc.ReasonReset
		req.OldPlot = &existing
	default:
		if has {
			s.reply(sess, protocol.IslandResultMsg{ReqID: msg.ReqID, Stage: protocol.StageFailed, World: world, Code: protocol.ErrHasIsland, MessageKey: protocol.KeyHasIsland})
			return
		}
	}

	req.Done = func(plot registry.Plot, err error) {
		if err != nil {
			s.reply(sess, protocol.IslandResultMsg{ReqID: msg.ReqID, Stage: protocol.StageFailed, World: world, PlotID: plot.ID.String(), Code: protocol.ErrInternal, MessageKey: alloc.KeyCannotCreate})
			return
		}
		s.reply(sess, islandResult(msg.ReqID, protocol.StageReady, plot))
	}

	plot, err := s.alloc.Allocate(ctx, req)
	if err != nil {
		s.logf("ws: %s %s for %s: %v", msg.Type, msg.ReqID, sess.requester, err)
		s.reply(sess, protocol.IslandResultMsg{
			ReqID:      msg.ReqID,
			Stage:      protocol.StageFailed,
			World:      world,
			Code:       protocol.CodeFor(err),
			MessageKey: alloc.MessageKey(err),
		})
		return
	}
	s.reply(sess, islandResult(msg.ReqID, protocol.StageRegistered, plot))
}

func islandResult(reqID, stage string, plot registry.Plot) protocol.IslandResultMsg {
	c := plot.Center
	return protocol.IslandResultMsg{
		ReqID:  reqID,
		Stage:  stage,
		World:  plot.World,
		PlotID: plot.ID.String(),
		Center: &[3]int{c.X, c.Y, c.Z},
	}
}

func (s *Server) reply(sess *session, m protocol.IslandResultMsg) {
	m.Type = protocol.TypeIslandResult
	m.ProtocolVersion = protocol.Version
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := sess.enqueue(b); err != nil {
		s.logf("ws: drop %s result for %s: %v", m.Stage, sess.requester, err)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
