package titles

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestGenerateCollapsesWhitespace(t *testing.T) {
	got := Generate("  Tell me about\nthe Eiffel   Tower  ")
	want := "Tell me about the Eiffel Tower"
	if got != want {
		t.Fatalf("unexpected title: %q, want %q", got, want)
	}
}

func TestGenerateShortInputFallsBackToPlaceholder(t *testing.T) {
	for _, input := range []string{"", "hi", "   hi\n", "123456789"} {
		if got := Generate(input); got != Placeholder {
			t.Fatalf("expected placeholder for %q, got %q", input, got)
		}
	}
}

func TestGenerateTruncatesLongInputWithEllipsis(t *testing.T) {
	input := strings.Repeat("word ", 40)
	got := Generate(input)

	if !strings.HasSuffix(got, ellipsis) {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if n := utf8.RuneCountInString(got); n != maxTitleRunes+1 {
		t.Fatalf("expected %d runes, got %d (%q)", maxTitleRunes+1, n, got)
	}
}

func TestGenerateExactLimitIsNotTruncated(t *testing.T) {
	input := strings.Repeat("a", maxTitleRunes)
	got := Generate(input)
	if got != input {
		t.Fatalf("expected input preserved at limit, got %q", got)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	input := "Tell me about the Eiffel Tower in detail"
	first := Generate(input)
	second := Generate(first)
	if first != "Tell me about the Eiffel Tower in detail" {
		t.Fatalf("unexpected title: %q", first)
	}
	if second != first {
		t.Fatalf("expected idempotent generation, got %q then %q", first, second)
	}
}

func TestGenerateIsRuneSafe(t *testing.T) {
	input := strings.Repeat("é", 80)
	got := Generate(input)
	if !utf8.ValidString(got) {
		t.Fatalf("generated title is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n > maxTitleRunes+1 {
		t.Fatalf("title too long: %d runes", n)
	}
}
