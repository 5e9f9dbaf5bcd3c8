package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// Request headers carried on every authenticated relay call. The relay
// rejects signatures older than its freshness window, so timestamps are
// always current wall-clock time in whole seconds.
const (
	HeaderHandle    = "X-Agentpost-Handle"
	HeaderTimestamp = "X-Agentpost-Timestamp"
	HeaderSignature = "X-Agentpost-Signature"
)

// BuildPostHeaders signs "{unixTimestamp}:{body}" and returns the header
// set for an authenticated POST. Binding the body into the signed payload
// lets the relay detect tampering; binding the timestamp bounds replay.
func BuildPostHeaders(handle, body string, signingPriv ed25519.PrivateKey) (http.Header, error) {
	ts := time.Now().Unix()
	sig, err := Sign([]byte(fmt.Sprintf("%d:%s", ts, body)), signingPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	h := make(http.Header)
	h.Set(HeaderHandle, handle)
	h.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	h.Set("Content-Type", "application/json")
	return h, nil
}

// BuildGetHeaders signs "GET:{path}:{unixTimestamp}" and returns the
// header set for an authenticated GET. Including the method and path
// prevents a captured signature from being replayed against a different
// endpoint.
func BuildGetHeaders(handle, path string, signingPriv ed25519.PrivateKey) (http.Header, error) {
	ts := time.Now().Unix()
	sig, err := Sign([]byte(fmt.Sprintf("GET:%s:%d", path, ts)), signingPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	h := make(http.Header)
	h.Set(HeaderHandle, handle)
	h.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	return h, nil
}

// SessionAuthPayload is the byte string signed for the push session's
// auth frame. The same handle/timestamp/signature triple as the HTTP
// headers, framed for the socket protocol.
func SessionAuthPayload(handle string, ts int64) []byte {
	return []byte(fmt.Sprintf("AUTH:%s:%d", handle, ts))
}
