package oauthstate

import (
	"encoding/hex"
	"testing"
)

func TestNewStateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := newStateToken()
		if err != nil {
			t.Fatalf("newStateToken: %v", err)
		}
		if len(token) != stateBytes*2 {
			t.Fatalf("token length = %d, want %d hex chars", len(token), stateBytes*2)
		}
		if _, err := hex.DecodeString(token); err != nil {
			t.Fatalf("token is not hex: %v", err)
		}
		if seen[token] {
			t.Fatal("duplicate state token generated")
		}
		seen[token] = true
	}
}
