package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerClientID  = "x-client-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"

	clockSkew = 5 * time.Minute
)

// canonicalString is what a client signs: timestamp, method, path, client id,
// nonce and the raw body, newline separated.
func canonicalString(ts, method, pathname, clientID, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(clientID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

// legacyCanonicalString omits client id and nonce.
func legacyCanonicalString(ts, method, pathname string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the headers a client sends with body.
func Sign(secret []byte, clientID, nonce, method, pathname string, body []byte, now time.Time) http.Header {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	h := http.Header{}
	h.Set(headerClientID, clientID)
	h.Set(headerTS, ts)
	h.Set(headerNonce, nonce)
	h.Set(headerSignature, signHMAC(secret, canonicalString(ts, method, pathname, clientID, nonce, body)))
	return h
}

type verifyResult struct {
	ClientID   string
	Signature  string
	HTTPStatus int
	Message    string
}

func deny(msg string) verifyResult {
	return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: msg}
}

func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, allowLegacy bool, now time.Time) verifyResult {
	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	if clientID == "" {
		return deny("missing x-client-id")
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return deny("missing x-ts")
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return deny("missing x-signature")
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" && !allowLegacy {
		return deny("missing x-nonce")
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return deny("bad x-ts")
	}
	if d := now.UnixMilli() - tsMS; d > clockSkew.Milliseconds() || d < -clockSkew.Milliseconds() {
		return deny("x-ts outside window")
	}

	var want string
	if nonce != "" {
		want = signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, clientID, nonce, rawBody))
	} else {
		want = signHMAC(secret, legacyCanonicalString(tsStr, r.Method, r.URL.Path, rawBody))
	}
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return deny("bad signature")
	}
	return verifyResult{ClientID: clientID, Signature: sig}
}
