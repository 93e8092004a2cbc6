// Package prune shortens upstream payloads before they are copied into
// traces, error details and logs.
package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMarker   = "[pruned]"
	DefaultMaxBytes = 4 << 10
)

type Config struct {
	MaxBytes int
	// HeadBytes keeps the beginning of s; the rest of the budget keeps the
	// end. Zero means three quarters of the budget.
	HeadBytes int
	Marker    string
}

// Exceeds reports whether s is over maxBytes.
func Exceeds(s string, maxBytes int) bool {
	return len(s) > maxBytes
}

// Text returns s unchanged when it fits cfg.MaxBytes. Otherwise it keeps a
// head and a tail cut on rune boundaries, joined by a marker that records how
// many bytes were dropped. The result never exceeds MaxBytes.
func Text(s string, cfg Config) string {
	cfg = normalizeConfig(cfg)
	if !Exceeds(s, cfg.MaxBytes) {
		return s
	}
	marker := fmt.Sprintf(" %s %d bytes omitted ", cfg.Marker, len(s))
	budget := cfg.MaxBytes - len(marker)
	if budget <= 0 {
		return safeUTF8Prefix(strings.TrimSpace(marker), cfg.MaxBytes)
	}
	headBytes := cfg.HeadBytes
	if headBytes <= 0 || headBytes > budget {
		headBytes = budget * 3 / 4
	}
	head := safeUTF8Prefix(s, headBytes)
	tail := safeUTF8Suffix(s, budget-len(head))
	return head + marker + tail
}

// Bytes is Text for raw response bodies, with the default head/tail split.
func Bytes(raw []byte, maxBytes int) string {
	return Text(string(raw), Config{MaxBytes: maxBytes})
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	return cfg
}

func safeUTF8Prefix(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) == 0 {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func safeUTF8Suffix(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) == 0 {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	start := len(s) - maxBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
