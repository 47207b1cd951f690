package auth

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCredentials_SignRequest(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	creds := &Credentials{
		KeyID:  "test-key-id",
		Secret: []byte("shh"),
		now:    func() time.Time { return fixed },
	}

	headers := creds.SignRequest("GET", "/ws")

	// Verify all required headers are present
	if headers.Get(HeaderKey) != "test-key-id" {
		t.Errorf("%s = %q, want %q", HeaderKey, headers.Get(HeaderKey), "test-key-id")
	}
	if headers.Get(HeaderTimestamp) != "1700000000123" {
		t.Errorf("%s = %q, want %q", HeaderTimestamp, headers.Get(HeaderTimestamp), "1700000000123")
	}

	sig := headers.Get(HeaderSignature)
	if sig == "" {
		t.Fatalf("%s is empty", HeaderSignature)
	}
	// Signature should be base64 encoded
	if _, err := base64.StdEncoding.DecodeString(sig); err != nil {
		t.Errorf("%s is not valid base64: %q", HeaderSignature, sig)
	}

	// Same inputs produce the same signature
	again := creds.SignRequest("GET", "/ws")
	if again.Get(HeaderSignature) != sig {
		t.Errorf("signature not deterministic: %q vs %q", again.Get(HeaderSignature), sig)
	}
}

func TestCredentials_Verify(t *testing.T) {
	creds := &Credentials{KeyID: "k", Secret: []byte("secret")}
	headers := creds.SignRequest("POST", "/rpc")

	tests := []struct {
		name   string
		creds  *Credentials
		method string
		path   string
		want   bool
	}{
		{"matching", creds, "POST", "/rpc", true},
		{"different path", creds, "POST", "/other", false},
		{"different method", creds, "GET", "/rpc", false},
		{"different secret", &Credentials{KeyID: "k", Secret: []byte("other")}, "POST", "/rpc", false},
		{"different key", &Credentials{KeyID: "x", Secret: []byte("secret")}, "POST", "/rpc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Verify(headers, tt.method, tt.path); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadSecret(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(tmpFile, []byte("  top-secret\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	secret, err := LoadSecret(tmpFile)
	if err != nil {
		t.Fatalf("LoadSecret failed: %v", err)
	}
	if string(secret) != "top-secret" {
		t.Errorf("secret = %q, want %q", secret, "top-secret")
	}
}

func TestLoadSecret_Empty(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(tmpFile, []byte("\n\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	if _, err := LoadSecret(tmpFile); err == nil {
		t.Error("expected error for empty secret file")
	}
}

func TestLoadSecret_FileNotFound(t *testing.T) {
	_, err := LoadSecret("/nonexistent/path/to/secret")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadCredentials(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(tmpFile, []byte("abc"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	creds, err := LoadCredentials("my-key-id", tmpFile)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if creds.KeyID != "my-key-id" {
		t.Errorf("KeyID = %q, want %q", creds.KeyID, "my-key-id")
	}
	if string(creds.Secret) != "abc" {
		t.Errorf("Secret = %q, want %q", creds.Secret, "abc")
	}
}

func TestLoadCredentials_MissingKeyID(t *testing.T) {
	_, err := LoadCredentials("", "/some/path")
	if err == nil {
		t.Error("expected error for missing key ID")
	}
}

func TestLoadCredentials_MissingPath(t *testing.T) {
	_, err := LoadCredentials("key", "")
	if err == nil {
		t.Error("expected error for missing secret path")
	}
}
