package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/transport/mcp"
)

func main() {
	var (
		listen     = flag.String("listen", "127.0.0.1:8090", "http listen address")
		apiURL     = flag.String("api-url", "http://127.0.0.1:8080", "island server http base url")
		hmacSecret = flag.String("hmac-secret", "", "hmac secret (or set BB_MCP_HMAC_SECRET)")
		timeout    = flag.Duration("timeout", 2*time.Minute, "island api request timeout")
	)
	flag.Parse()

	if strings.TrimSpace(*hmacSecret) == "" {
		*hmacSecret = strings.TrimSpace(os.Getenv("BB_MCP_HMAC_SECRET"))
	}
	requireHMAC := envBoolWithDefault("BB_MCP_REQUIRE_HMAC", mcp.DeployRequiresHMAC())
	allowLegacyHMAC := envBoolWithDefault("BB_MCP_HMAC_ALLOW_LEGACY", !mcp.DeployRequiresHMAC())
	if err := mcp.CheckListen(*listen, *hmacSecret, requireHMAC); err != nil {
		log.Fatalf("[mcp] %v (set -hmac-secret or BB_MCP_HMAC_SECRET)", err)
	}

	logger := log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds)
	authMode := "none(loopback-only)"
	if strings.TrimSpace(*hmacSecret) != "" {
		authMode = "hmac"
	}
	logger.Printf("auth_mode=%s require_hmac=%t allow_legacy_hmac=%t", authMode, requireHMAC, allowLegacyHMAC)

	islands, err := mcp.NewHTTPIslands(*apiURL, *timeout)
	if err != nil {
		logger.Fatalf("island api: %v", err)
	}
	srv, err := mcp.NewServer(mcp.Config{
		Islands:         islands,
		HMACSecret:      *hmacSecret,
		AllowLegacyHMAC: allowLegacyHMAC,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("mcp: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on http://%s (island api=%s)", *listen, *apiURL)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBoolWithDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
