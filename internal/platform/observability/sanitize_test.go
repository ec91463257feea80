package observability

import (
	"strings"
	"testing"
)

func TestSanitizeIdentifierStripsControlCharacters(t *testing.T) {
	if got := SanitizeIdentifier("ord_01\x00TEST\x1b"); got != "ord_01TEST" {
		t.Fatalf("expected control characters removed, got %q", got)
	}
}

func TestSanitizeIdentifierLimitsLength(t *testing.T) {
	long := strings.Repeat("a", 100)
	if got := SanitizeIdentifier(long); len(got) != 64 {
		t.Fatalf("expected identifier truncated to 64 runes, got %d", len(got))
	}
}

func TestSanitizeIdentifierEmpty(t *testing.T) {
	if got := SanitizeIdentifier(""); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
