package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
	"github.com/CoreyShupe/BentoBox/internal/config"
	"github.com/CoreyShupe/BentoBox/internal/observerproto"
)

// Server streams allocation events to loopback observers. It is an
// alloc.Listener and never aborts an allocation.
type Server struct {
	cfg     config.Config
	islands func() int
	log     *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	out chan []byte

	mu     sync.Mutex
	filter observerproto.SubscribeMsg
}

func (s *subscriber) setFilter(f observerproto.SubscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (s *subscriber) wants(ev alloc.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return matches(s.filter, ev)
}

// NewServer builds an observer. islands reports the current number of
// registered plots for the bootstrap response and may be nil.
func NewServer(cfg config.Config, islands func() int, logger *log.Logger) *Server {
	return &Server{
		cfg:     cfg,
		islands: islands,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
		subs: map[string]*subscriber{},
	}
}

func (s *Server) OnAllocationEvent(ctx context.Context, ev alloc.Event) error {
	b, err := json.Marshal(observerproto.EventMsg{
		Type:            observerproto.TypeAllocationEvent,
		ProtocolVersion: observerproto.Version,
		Event:           ev,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			// Slow observer; it can catch up from the index.
			s.dropped.Add(1)
		}
	}
	return nil
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			DefaultWorldID:  s.cfg.DefaultWorldID,
		}
		for _, id := range s.cfg.WorldIDs() {
			w, _ := s.cfg.WorldByID(id)
			o := alloc.Origin(w)
			resp.Worlds = append(resp.Worlds, observerproto.WorldParams{
				WorldID:         w.ID,
				Distance:        w.Distance,
				Height:          w.Height,
				Origin:          [3]int{o.X, o.Y, o.Z},
				BlockedCeiling:  w.BlockedCeiling,
				UseOwnGenerator: w.UseOwnGenerator,
			})
		}
		if s.islands != nil {
			resp.Islands = s.islands()
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		peer := &subscriber{out: make(chan []byte, 256), filter: sub}
		s.mu.Lock()
		s.subs[sid] = peer
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		if s.log != nil {
			s.log.Printf("observer %s subscribed worlds=%v", sid, sub.Worlds)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-peer.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				peer.setFilter(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func matches(f observerproto.SubscribeMsg, ev alloc.Event) bool {
	if f.FailuresOnly && ev.Phase != alloc.PhaseFailed && ev.Phase != alloc.PhaseAborted {
		return false
	}
	if f.Requester != "" && !strings.EqualFold(f.Requester, ev.Requester.String()) {
		return false
	}
	if len(f.Worlds) == 0 {
		return true
	}
	for _, w := range f.Worlds {
		if w == ev.World {
			return true
		}
	}
	return false
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
