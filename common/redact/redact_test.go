package redact_test

import (
	"testing"

	"github.com/bdobrica/Remrin/common/redact"
)

func TestString(t *testing.T) {
	got := redact.String("calling with key sk-abcdef123 and id ab", "sk-abcdef123", "ab")
	want := "calling with key [REDACTED] and id ab"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSecret(t *testing.T) {
	cases := map[string]string{
		"":                 "(unset)",
		"short":            "[REDACTED]",
		"sk-live-000-9f2c": "…9f2c",
	}
	for in, want := range cases {
		if got := redact.Secret(in); got != want {
			t.Errorf("Secret(%q) = %q, want %q", in, got, want)
		}
	}
}
