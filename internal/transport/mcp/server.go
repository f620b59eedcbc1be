package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/protocol"
)

// Islands is the island service the tools call, either in process or over
// the server's HTTP API.
type Islands interface {
	Worlds(ctx context.Context) ([]protocol.WorldRef, error)
	Island(ctx context.Context, requester, world string) (protocol.IslandResultMsg, error)
	Allocate(ctx context.Context, cmd protocol.IslandCommand) (protocol.IslandResultMsg, error)
	Reserve(ctx context.Context, cmd protocol.ReserveCommand) (protocol.IslandResultMsg, error)
}

type Config struct {
	Islands    Islands
	HMACSecret string
	// AllowLegacyHMAC accepts signatures without a nonce.
	AllowLegacyHMAC bool
	Logger          *log.Logger
}

// Server exposes island tools over JSON-RPC for plugins and automation.
type Server struct {
	islands     Islands
	hmacSecret  []byte
	allowLegacy bool
	guard       *replayGuard
	log         *log.Logger
	now         func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Islands == nil {
		return nil, fmt.Errorf("nil islands service")
	}
	s := &Server{
		islands:     cfg.Islands,
		allowLegacy: cfg.AllowLegacyHMAC,
		guard:       newReplayGuard(0),
		log:         cfg.Logger,
		now:         time.Now,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	if len(s.hmacSecret) > 0 {
		now := s.now()
		vr := verifyHMAC(r, body, s.hmacSecret, s.allowLegacy, now)
		if vr.HTTPStatus != 0 {
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		if !s.guard.allow(vr.ClientID, vr.Signature, now) {
			http.Error(rw, "replayed request", http.StatusConflict)
			return
		}
		clientID = vr.ClientID
	}
	if clientID == "" {
		clientID = "anonymous"
	}

	req, err := parseRPCRequest(body)
	if err != nil {
		http.Error(rw, "bad jsonrpc request", http.StatusBadRequest)
		return
	}

	resp := s.dispatch(r.Context(), clientID, req)
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, clientID string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "bentobox-islands", "version": protocol.Version},
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "tools/list", "list_tools":
		return rpcOK(req.ID, map[string]any{"tools": toolsList()})

	case "tools/call", "call_tool":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return rpcErr(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		if !isKnownTool(p.Name) {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		out, err := s.callTool(ctx, p.Name, p.Arguments)
		if err != nil {
			s.logf("mcp: client=%s tool=%s: %v", clientID, p.Name, err)
			var re *ResultError
			if errors.As(err, &re) {
				return rpcErr(req.ID, codeToolFailed, err.Error(), re.Result)
			}
			return rpcErr(req.ID, codeToolFailed, err.Error(), nil)
		}
		return rpcOK(req.ID, out)

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

func commandSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"requester": map[string]any{"type": "string", "format": "uuid"},
			"world":     map[string]any{"type": "string"},
			"bundle":    map[string]any{"type": "string"},
			"no_paste":  map[string]any{"type": "boolean"},
			"wait":      map[string]any{"type": "boolean"},
		},
		"required":             []string{"requester"},
		"additionalProperties": false,
	}
}

func toolsList() []map[string]any {
	return []map[string]any{
		{
			"name":        "islands.list_worlds",
			"description": "List the worlds islands can be created in.",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false},
		},
		{
			"name":        "islands.get",
			"description": "Get the island a player owns in a world.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"requester": map[string]any{"type": "string", "format": "uuid"},
					"world":     map[string]any{"type": "string"},
				},
				"required": []string{"requester"},
			},
		},
		{
			"name":        "islands.create",
			"description": "Create the first island of a player. Fails if the player already has one.",
			"inputSchema": commandSchema(),
		},
		{
			"name":        "islands.reset",
			"description": "Replace the island of a player with a fresh one at a new location.",
			"inputSchema": commandSchema(),
		},
		{
			"name":        "islands.reserve",
			"description": "Hold a plot for a player. Their next create or reset lands on it. Without at, the server picks the next free spot.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"requester": map[string]any{"type": "string", "format": "uuid"},
					"world":     map[string]any{"type": "string"},
					"at": map[string]any{
						"type":        "array",
						"description": "x and z of the island centre",
						"items":       map[string]any{"type": "integer"},
						"minItems":    2,
						"maxItems":    2,
					},
				},
				"required":             []string{"requester"},
				"additionalProperties": false,
			},
		},
	}
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "islands.list_worlds":
		worlds, err := s.islands.Worlds(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"worlds": worlds}, nil

	case "islands.get":
		var p struct {
			Requester string `json:"requester"`
			World     string `json:"world"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		if strings.TrimSpace(p.Requester) == "" {
			return nil, fmt.Errorf("missing requester")
		}
		return s.islands.Island(ctx, p.Requester, p.World)

	case "islands.create", "islands.reset":
		var cmd protocol.IslandCommand
		if err := json.Unmarshal(args, &cmd); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		if strings.TrimSpace(cmd.Requester) == "" {
			return nil, fmt.Errorf("missing requester")
		}
		cmd.Reason = "create"
		if name == "islands.reset" {
			cmd.Reason = "reset"
		}
		return s.islands.Allocate(ctx, cmd)

	case "islands.reserve":
		var cmd protocol.ReserveCommand
		if err := json.Unmarshal(args, &cmd); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
		if strings.TrimSpace(cmd.Requester) == "" {
			return nil, fmt.Errorf("missing requester")
		}
		return s.islands.Reserve(ctx, cmd)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func isKnownTool(name string) bool {
	switch name {
	case "islands.list_worlds", "islands.get", "islands.create", "islands.reset", "islands.reserve":
		return true
	default:
		return false
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
