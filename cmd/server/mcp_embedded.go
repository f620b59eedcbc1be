package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/protocol"
	"github.com/CoreyShupe/BentoBox/internal/transport/mcp"
)

// appIslands serves MCP island tools straight from the running app.
type appIslands struct{ a *app }

func (s appIslands) Worlds(context.Context) ([]protocol.WorldRef, error) {
	return s.a.worlds(), nil
}

func (s appIslands) Island(_ context.Context, requester, world string) (protocol.IslandResultMsg, error) {
	return s.result(s.a.island(requester, world))
}

func (s appIslands) Allocate(ctx context.Context, cmd protocol.IslandCommand) (protocol.IslandResultMsg, error) {
	status, res := s.a.allocate(ctx, cmd)
	if status == 0 {
		return protocol.IslandResultMsg{}, ctx.Err()
	}
	return s.result(status, res)
}

func (s appIslands) Reserve(ctx context.Context, cmd protocol.ReserveCommand) (protocol.IslandResultMsg, error) {
	return s.result(s.a.reserve(ctx, cmd))
}

func (s appIslands) result(status int, res protocol.IslandResultMsg) (protocol.IslandResultMsg, error) {
	res.Type = protocol.TypeIslandResult
	res.ProtocolVersion = protocol.Version
	if status >= 400 {
		return res, &mcp.ResultError{Status: status, Result: res}
	}
	return res, nil
}

// buildEmbeddedMCP returns the MCP http server, or nil when listen is empty.
func buildEmbeddedMCP(listen, secret string, a *app, logger *log.Logger) (*http.Server, error) {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		logger.Printf("embedded MCP disabled (mcp_listen empty)")
		return nil, nil
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("BB_MCP_HMAC_SECRET"))
	}
	requireHMAC := envBool("BB_MCP_REQUIRE_HMAC", mcp.DeployRequiresHMAC())
	allowLegacyHMAC := envBool("BB_MCP_HMAC_ALLOW_LEGACY", !mcp.DeployRequiresHMAC())
	if err := mcp.CheckListen(listen, secret, requireHMAC); err != nil {
		return nil, err
	}

	authMode := "none(loopback-only)"
	if secret != "" {
		authMode = "hmac"
	}
	logger.Printf("embedded_mcp auth_mode=%s require_hmac=%t allow_legacy_hmac=%t", authMode, requireHMAC, allowLegacyHMAC)

	srv, err := mcp.NewServer(mcp.Config{
		Islands:         appIslands{a: a},
		HMACSecret:      secret,
		AllowLegacyHMAC: allowLegacyHMAC,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
