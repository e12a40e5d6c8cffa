package app

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	maxReasonRunes = 400
	maxTitleRunes  = 120
	maxLabelRunes  = 40
	maxVariantTag  = 8
)

var (
	zeroWidthRe = regexp.MustCompile("[\u200B-\u200D\uFEFF]")
	spacesRe    = regexp.MustCompile(`\s+`)
	urlRe       = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+)`)
	emailRe     = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phoneRe     = regexp.MustCompile(`\+?\d[\d\s()\-]{8,}\d`)
)

// normalizeText trims, drops zero-width characters and collapses whitespace.
func normalizeText(s string) string {
	s = zeroWidthRe.ReplaceAllString(strings.TrimSpace(s), "")
	return spacesRe.ReplaceAllString(s, " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func maskSensitive(s string) string {
	s = urlRe.ReplaceAllString(s, "[link]")
	s = emailRe.ReplaceAllString(s, "[email]")
	return phoneRe.ReplaceAllString(s, "[phone]")
}

// sanitizeReason returns the stored form of a free-text reason, or "" when
// nothing readable is left.
func sanitizeReason(raw string) string {
	out := maskSensitive(normalizeText(truncateRunes(raw, maxReasonRunes)))
	if !strings.ContainsFunc(out, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return ""
	}
	return out
}

func sanitizeTitle(raw string) string {
	return truncateRunes(normalizeText(raw), maxTitleRunes)
}

func sanitizeLabel(raw string) string {
	return truncateRunes(normalizeText(raw), maxLabelRunes)
}

func sanitizeVariantTag(raw string) string {
	return truncateRunes(strings.TrimSpace(raw), maxVariantTag)
}
