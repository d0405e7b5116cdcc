// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "unicode/utf8"

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// RuneLen returns the number of runes in a string.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// EstimateTokens gives a rough token count: one token per CJK rune and
// roughly four bytes per token for everything else.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	wide, other := 0, 0
	for _, r := range s {
		if isWide(r) {
			wide++
		} else {
			other += utf8.RuneLen(r)
		}
	}
	return wide + (other+3)/4
}

// isWide reports whether r is a CJK ideograph, kana, hangul or fullwidth form.
func isWide(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF:
		return true
	case r >= 0x3400 && r <= 0x4DBF:
		return true
	case r >= 0x3040 && r <= 0x30FF:
		return true
	case r >= 0xAC00 && r <= 0xD7AF:
		return true
	case r >= 0xFF00 && r <= 0xFFEF:
		return true
	case r >= 0x3000 && r <= 0x303F:
		return true
	}
	return false
}
