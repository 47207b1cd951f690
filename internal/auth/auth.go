// Package auth provides RPC endpoint authentication using HMAC-SHA256 signed headers.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Header names attached to authenticated dials and requests.
const (
	HeaderKey       = "X-RPC-Access-Key"
	HeaderTimestamp = "X-RPC-Access-Timestamp"
	HeaderSignature = "X-RPC-Access-Signature"
)

// Credentials holds the access key and shared secret for signing requests.
type Credentials struct {
	KeyID  string // Access key issued by the RPC provider
	Secret []byte // Shared secret for signing

	now func() time.Time
}

// LoadCredentials loads credentials from a key ID and a secret file path.
func LoadCredentials(keyID, secretPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("access key ID is required")
	}
	if secretPath == "" {
		return nil, fmt.Errorf("secret path is required")
	}

	secret, err := LoadSecret(secretPath)
	if err != nil {
		return nil, fmt.Errorf("load secret: %w", err)
	}

	return &Credentials{
		KeyID:  keyID,
		Secret: secret,
	}, nil
}

// LoadSecret reads a shared secret from a file, trimming surrounding whitespace.
func LoadSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}

	secret := bytes.TrimSpace(data)
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret file is empty")
	}
	return secret, nil
}

// SignRequest generates authentication headers for a request.
// For websocket dials, method should be "GET" and path the endpoint path.
func (c *Credentials) SignRequest(method, path string) http.Header {
	timestampMs := c.clock().UnixMilli()

	h := http.Header{}
	h.Set(HeaderKey, c.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, c.signature(timestampMs, method, path))
	return h
}

// Verify reports whether headers carry a valid signature for method and path.
func (c *Credentials) Verify(h http.Header, method, path string) bool {
	if h.Get(HeaderKey) != c.KeyID {
		return false
	}
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	want := c.signature(ts, method, path)
	return hmac.Equal([]byte(want), []byte(h.Get(HeaderSignature)))
}

// signature computes the HMAC over timestamp_ms + method + path.
func (c *Credentials) signature(timestampMs int64, method, path string) string {
	mac := hmac.New(sha256.New, c.Secret)
	fmt.Fprintf(mac, "%d%s%s", timestampMs, method, path)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Credentials) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
