package header_test

import (
	"context"
	"net"
	"testing"

	"github.com/spfkit/spf"
	"github.com/spfkit/spf/header"
)

func TestReceivedStartsWithResultType(t *testing.T) {
	result := spf.NewChecker().SPF(context.Background(), net.ParseIP("192.0.2.1"), "user@example.com", "mail.example.com")
	got := header.Received(&result, "smtp.mailfrom", "192.0.2.1", "user@example.com", "mail.example.com")
	if got == "" {
		t.Fatalf("expected a non-empty header value")
	}
	if got[:len(result.Type.String())] != result.Type.String() {
		t.Errorf("expected header to start with result %q, got %q", result.Type.String(), got)
	}
}

func TestReceivedIncludesClientIP(t *testing.T) {
	r := spf.NewChecker().CheckHost(context.Background(), net.ParseIP("10.0.0.1"), "example.invalid", "user@example.invalid", "")
	got := header.Received(&r, "smtp.mailfrom", "10.0.0.1", "user@example.invalid", "")
	want := "client-ip=10.0.0.1"
	if !contains(got, want) {
		t.Errorf("expected %q to contain %q", got, want)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
