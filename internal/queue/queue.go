// Package queue turns raw prompt text into ordered work items and derives
// their suggested filenames.
package queue

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/lehigh-university-libraries/imagebatch/internal/models"
)

const (
	// maxSlugWords caps how many words of a prompt end up in a filename
	maxSlugWords = 8
	fallbackSlug = "image"
)

// Build splits raw text into one work item per non-blank line.
// Blank lines do not consume ids.
func Build(raw string) []models.WorkItem {
	return FromPrompts(strings.Split(raw, "\n"))
}

// FromPrompts applies the same trim/discard rules as Build to an already
// separated list of prompts.
func FromPrompts(prompts []string) []models.WorkItem {
	items := make([]models.WorkItem, 0, len(prompts))
	for _, p := range prompts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items = append(items, models.WorkItem{
			ID:     len(items),
			Prompt: p,
			Status: models.StatusPending,
		})
	}
	return items
}

// Slugify reduces a prompt to a lower-case, hyphen-joined filename stem made
// of at most eight words. It never returns an empty string.
func Slugify(prompt string) string {
	lowered := strings.ToLower(prompt)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case isSlugSpace(r):
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	if len(words) > maxSlugWords {
		words = words[:maxSlugWords]
	}
	slug := strings.Join(words, "-")
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// isSlugSpace is unicode.IsSpace without U+0085 and with U+FEFF, the
// whitespace class used by browsers when splitting prompts into words.
func isSlugSpace(r rune) bool {
	switch r {
	case '\u0085':
		return false
	case '\ufeff':
		return true
	}
	return unicode.IsSpace(r)
}

// FileName returns the suggested download name for the item at the given
// 1-based ordinal, e.g. 003-a-red-fox.png.
func FileName(ordinal int, prompt string) string {
	return fmt.Sprintf("%03d-%s.png", ordinal, Slugify(prompt))
}

// ItemFileName is FileName for a work item.
func ItemFileName(item models.WorkItem) string {
	return FileName(item.Ordinal(), item.Prompt)
}
