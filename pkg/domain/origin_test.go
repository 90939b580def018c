package domain

import (
	"testing"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "Plain HTTPS", raw: "https://tools.example.com", want: "https://tools.example.com"},
		{name: "Default HTTPS Port Stripped", raw: "https://tools.example.com:443", want: "https://tools.example.com"},
		{name: "Default HTTP Port Stripped", raw: "http://localhost:80", want: "http://localhost"},
		{name: "Custom Port Kept", raw: "http://localhost:5173", want: "http://localhost:5173"},
		{name: "Mixed Case Lowered", raw: "HTTPS://Tools.Example.COM", want: "https://tools.example.com"},
		{name: "Path Ignored", raw: "https://tools.example.com/widget/index.html", want: "https://tools.example.com"},
		{name: "Whitespace Trimmed", raw: "  https://tools.example.com ", want: "https://tools.example.com"},
		{name: "Local Scheme", raw: "local://clipper", want: "local://clipper"},
		{name: "Opaque Null", raw: "null", wantErr: true},
		{name: "Empty", raw: "", wantErr: true},
		{name: "Missing Scheme", raw: "tools.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeOrigin(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeOrigin(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeOrigin(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeOrigin(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestOriginSet(t *testing.T) {
	set, err := NewOriginSet("https://hub.example.com", "https://tools.example.com:443")
	if err != nil {
		t.Fatalf("NewOriginSet: %v", err)
	}

	if !set.Allows("https://tools.example.com") {
		t.Error("normalized member should be allowed")
	}
	if !set.Allows("HTTPS://HUB.example.com:443") {
		t.Error("raw variant of a member should be allowed")
	}
	if set.Allows("https://evil.example.com") {
		t.Error("foreign origin must not be allowed")
	}
	if set.Allows("null") {
		t.Error("opaque origin must never be allowed")
	}

	if err := set.Replace([]string{"http://localhost:5173"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if set.Allows("https://hub.example.com") {
		t.Error("Replace should drop previous members")
	}
	if !set.Allows("http://localhost:5173") {
		t.Error("Replace should admit new members")
	}

	got := set.List()
	if len(got) != 1 || got[0] != "http://localhost:5173" {
		t.Errorf("List() = %v", got)
	}
}

func TestOriginSetRejectsInvalid(t *testing.T) {
	if _, err := NewOriginSet("not an origin"); err == nil {
		t.Fatal("NewOriginSet should reject unparseable origins")
	}
}
