package tokenutil

import (
	"strings"
	"testing"
)

func TestCountTokensEmpty(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", got)
	}
}

func TestCountTokensStable(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog."
	first := CountTokens(text)
	second := CountTokens(text) // cached path
	if first != second {
		t.Errorf("cached count %d != first count %d", second, first)
	}
	if first <= 0 {
		t.Errorf("CountTokens = %d, want > 0", first)
	}
}

func TestEstimateFast(t *testing.T) {
	tests := []struct {
		text string
		min  int
	}{
		{"", 0},
		{"   ", 0},
		{"word", 1},
		{strings.Repeat("abcd", 100), 100},
	}
	for _, tt := range tests {
		if got := EstimateFast(tt.text); got < tt.min {
			t.Errorf("EstimateFast(%q) = %d, want >= %d", tt.text, got, tt.min)
		}
	}
}

func TestTruncateToTokens(t *testing.T) {
	long := strings.Repeat("hello world ", 500)
	truncated := TruncateToTokens(long, 10)
	if len(truncated) >= len(long) {
		t.Errorf("expected truncation, got %d chars", len(truncated))
	}
	if !strings.HasSuffix(truncated, "...") {
		t.Errorf("truncated text should end with ellipsis")
	}

	short := "tiny"
	if got := TruncateToTokens(short, 100); got != short {
		t.Errorf("TruncateToTokens(short) = %q, want unchanged", got)
	}
	if got := TruncateToTokens(long, 0); got != long {
		t.Errorf("maxTokens=0 should return input unchanged")
	}
}
