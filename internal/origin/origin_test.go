package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		raw        string
		normalized string
		host       string
		ok         bool
	}{
		{raw: "HTTPS://Example.COM:443", normalized: "https://example.com", host: "example.com", ok: true},
		{raw: "http://localhost:5173/", normalized: "http://localhost:5173", host: "localhost:5173", ok: true},
		{raw: "http://[::1]:3001", normalized: "http://[::1]:3001", host: "[::1]:3001", ok: true},
		{raw: "null", normalized: "null", ok: true},
		{raw: ""},
		{raw: "ftp://example.com"},
		{raw: "https://example.com/path"},
		{raw: "https://example.com/?q=1"},
		{raw: "https://user@example.com"},
		{raw: "https://example.com/#frag"},
		{raw: "https://example.com:0"},
		{raw: "https://example.com:99999"},
		{raw: "https://[::1"},
	}
	for _, tc := range cases {
		normalized, host, ok := NormalizeHeader(tc.raw)
		if ok != tc.ok {
			t.Fatalf("NormalizeHeader(%q) ok=%v, want %v", tc.raw, ok, tc.ok)
		}
		if normalized != tc.normalized || host != tc.host {
			t.Fatalf("NormalizeHeader(%q)=(%q, %q), want (%q, %q)", tc.raw, normalized, host, tc.normalized, tc.host)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	t.Run("default is same host:port only", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "app.example.com", nil) {
			t.Fatalf("expected same-host to be allowed")
		}
		if !IsAllowed(normalized, host, "app.example.com:443", nil) {
			t.Fatalf("expected default port to be equivalent")
		}
		if IsAllowed(normalized, host, "app.example.com:8443", nil) {
			t.Fatalf("expected different port to be rejected")
		}
	})

	t.Run("allows star", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "whatever:1234", []string{"*"}) {
			t.Fatalf("expected * to allow any origin")
		}
	})

	t.Run("allows explicit origin", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "roulette.example.com", []string{"https://app.example.com"}) {
			t.Fatalf("expected explicit origin to be allowed")
		}
		if IsAllowed(normalized, host, "roulette.example.com", []string{"https://other.example.com"}) {
			t.Fatalf("expected non-matching origin to be rejected")
		}
	})

	t.Run("null never matches a host", func(t *testing.T) {
		if IsAllowed("null", "", "roulette.example.com", nil) {
			t.Fatalf("expected null origin to be rejected by the same-host policy")
		}
		if !IsAllowed("null", "", "roulette.example.com", []string{"null"}) {
			t.Fatalf("expected null origin to be allowed when configured")
		}
	})
}

func TestPolicyCheck(t *testing.T) {
	p := NewPolicy(nil)
	if got, ok := p.Check("", "localhost:3001"); !ok || got != "" {
		t.Fatalf("Check(no origin)=(%q, %v), want (\"\", true)", got, ok)
	}
	if got, ok := p.Check("http://localhost:3001", "localhost:3001"); !ok || got != "http://localhost:3001" {
		t.Fatalf("Check(same host)=(%q, %v), want (%q, true)", got, ok, "http://localhost:3001")
	}
	if _, ok := p.Check("http://evil.example.com", "localhost:3001"); ok {
		t.Fatalf("Check(cross origin) ok=true, want false")
	}
	if _, ok := p.Check("not a url", "localhost:3001"); ok {
		t.Fatalf("Check(garbage) ok=true, want false")
	}
	if p.AllowsAny() {
		t.Fatalf("AllowsAny=true for empty allow-list")
	}
	if !NewPolicy([]string{"*"}).AllowsAny() {
		t.Fatalf("AllowsAny=false for *")
	}
}
