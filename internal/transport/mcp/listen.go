package mcp

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// DeployRequiresHMAC reports whether DEPLOY_ENV names a shared environment,
// where unsigned MCP calls and legacy signatures are refused by default.
func DeployRequiresHMAC() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return true
	default:
		return false
	}
}

// CheckListen refuses configurations that would expose island tools
// unauthenticated: a required secret that is missing, or no secret on a
// non-loopback address.
func CheckListen(listen, secret string, requireHMAC bool) error {
	secret = strings.TrimSpace(secret)
	if requireHMAC && secret == "" {
		return fmt.Errorf("hmac secret required")
	}
	if secret == "" && !IsLoopbackAddress(listen) {
		return fmt.Errorf("refusing insecure MCP listen on non-loopback address %q without hmac secret", listen)
	}
	return nil
}

func IsLoopbackAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
