// Package discordutil renders tracking output into Discord-sized chunks and
// drives the send/edit/delete state machine that keeps each channel's
// pinned status message up to date.
package discordutil

import (
	"fmt"
	"sort"
	"strings"
)

const (
	descriptionMaxLength = 4096
	embedMaxLength       = 6000
)

// Embed is a minimal rendering of a Discord embed: a title and description,
// nothing else. The update loop's output never needs more.
type Embed struct {
	Title       string
	Description string
}

// Rendered is a ready-to-send or ready-to-edit message body.
type Rendered struct {
	Content string
	Embeds  []Embed
}

// RenderLines lays lines out into one or two embeds under title, dropping
// any single line that can never fit and, failing that, dropping whole
// lines (longest first) until the remaining set fits Discord's combined
// embed character budget. If the result still doesn't fit in one embed it
// is split roughly in half across two.
func RenderLines(content string, rawLines []string, title string) Rendered {
	hasTitle := title != ""
	titleLen := 1
	if hasTitle {
		titleLen = len(title)
	}
	remaining := embedMaxLength - titleLen + 2

	lines := make([]string, 0, len(rawLines))
	for _, s := range rawLines {
		lines = append(lines, s+"\n")
	}

	var kept []string
	linesDropped := 0
	charsDropped := 0
	for _, s := range lines {
		if len(s) <= descriptionMaxLength+1 {
			kept = append(kept, s)
		} else {
			linesDropped++
			charsDropped += len(s)
		}
	}
	lines = kept

	sort.Slice(lines, func(i, j int) bool { return len(lines[i]) < len(lines[j]) })

	total := 0
	for _, s := range lines {
		total += len(s)
	}
	for total > remaining && len(lines) > 0 {
		last := lines[len(lines)-1]
		lines = lines[:len(lines)-1]
		total -= len(last)
		linesDropped++
		charsDropped += len(last)
	}

	if total <= descriptionMaxLength+1 {
		embed := Embed{Description: strings.TrimSuffix(strings.Join(lines, ""), "\n")}
		if hasTitle {
			embed.Title = title
		}
		return Rendered{Content: withTruncationNotice(content, linesDropped, charsDropped), Embeds: []Embed{embed}}
	}

	halfLines := (len(lines) + 1) / 2
	var firstLines, secondLines []string
	firstLen := 0
	for _, line := range lines {
		if halfLines > 0 && firstLen+len(line) <= descriptionMaxLength+1 {
			halfLines--
			firstLen += len(line)
			firstLines = append(firstLines, line)
		} else {
			secondLines = append(secondLines, line)
		}
	}

	firstDescription := strings.TrimSuffix(strings.Join(firstLines, ""), "\n")
	secondDescription := strings.TrimSuffix(strings.Join(secondLines, ""), "\n")
	if halfLines > 0 {
		// The first half never filled up, meaning the second half holds
		// more content; swap so the fuller embed keeps the title.
		firstDescription, secondDescription = secondDescription, firstDescription
	}

	firstEmbed := Embed{Description: firstDescription}
	if hasTitle {
		firstEmbed.Title = title
	}
	secondEmbed := Embed{Description: secondDescription}

	return Rendered{
		Content: withTruncationNotice(content, linesDropped, charsDropped),
		Embeds:  []Embed{firstEmbed, secondEmbed},
	}
}

func withTruncationNotice(content string, linesDropped, charsDropped int) string {
	if linesDropped == 0 {
		return content
	}
	notice := fmt.Sprintf("This output has been truncated by %d lines (%d characters) because of Discord limits.", linesDropped, charsDropped)
	if content == "" {
		return notice
	}
	return content + "\n" + notice
}
