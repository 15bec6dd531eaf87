package models

import (
	"strings"
	"testing"
)

func TestGenerateTransactionNumber(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		n := GenerateTransactionNumber()
		if !strings.HasPrefix(n, "TRM-") {
			t.Fatalf("transaction number %q missing TRM- prefix", n)
		}
		if len(n) != 12 {
			t.Fatalf("transaction number %q has length %d, want 12", n, len(n))
		}
		for _, r := range n[4:] {
			if strings.ContainsRune("0O1IL", r) {
				t.Fatalf("transaction number %q contains ambiguous character %q", n, r)
			}
		}
		seen[n] = true
	}
	// collisions are possible but a thousand identical draws are not
	if len(seen) < 990 {
		t.Errorf("generated only %d distinct numbers out of 1000", len(seen))
	}
}

func TestGenerateInviteCode(t *testing.T) {
	code := GenerateInviteCode()
	if len(code) != 8 {
		t.Fatalf("invite code %q has length %d, want 8", code, len(code))
	}
	for _, r := range code {
		if strings.ContainsRune("0O1IL", r) {
			t.Fatalf("invite code %q contains ambiguous character %q", code, r)
		}
	}
}
