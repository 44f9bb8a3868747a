package discordutil

import (
	"strings"
	"testing"
)

func TestRenderLinesFitsOneEmbed(t *testing.T) {
	out := RenderLines("", []string{"alice: here", "bob: there"}, "Tracking output for channel #x:")
	if len(out.Embeds) != 1 {
		t.Fatalf("expected a single embed, got %d", len(out.Embeds))
	}
	if !strings.Contains(out.Embeds[0].Description, "alice: here") || !strings.Contains(out.Embeds[0].Description, "bob: there") {
		t.Fatalf("expected description to contain both lines, got %q", out.Embeds[0].Description)
	}
	if out.Embeds[0].Title == "" {
		t.Fatalf("expected the title to be preserved on the single embed")
	}
}

func TestRenderLinesSplitsAcrossTwoEmbedsWhenOversized(t *testing.T) {
	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, strings.Repeat("x", 60))
	}
	out := RenderLines("", lines, "Tracking output for channel #x:")
	if len(out.Embeds) != 2 {
		t.Fatalf("expected two embeds once the body exceeds one embed's budget, got %d", len(out.Embeds))
	}
}

func TestRenderLinesDropsOverlongSingleLine(t *testing.T) {
	tooLong := strings.Repeat("z", descriptionMaxLength+10)
	out := RenderLines("ping", []string{"short line", tooLong}, "")
	if strings.Contains(out.Embeds[0].Description, "zzzz") {
		t.Fatalf("expected the overlong line to be dropped entirely")
	}
	if !strings.Contains(out.Content, "truncated by 1 lines") {
		t.Fatalf("expected a truncation notice in content, got %q", out.Content)
	}
}

func TestRenderLinesPreservesContentWhenNothingDropped(t *testing.T) {
	out := RenderLines("@role", []string{"alice: here"}, "title")
	if out.Content != "@role" {
		t.Fatalf("expected content unchanged when nothing was dropped, got %q", out.Content)
	}
}
