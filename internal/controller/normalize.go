package controller

import (
	"strings"
)

const (
	// IconBase resolves bare icon names such as "blue-dot".
	IconBase = "https://maps.google.com/mapfiles/ms/micons/"
	// DefaultIconURL is the icon new markers get.
	DefaultIconURL = IconBase + "pink-dot.png"
)

// NormalizeColor turns "#abc", "ABC123" or "ff" into "#RRGGBB". Digits are
// left-padded with zeros and anything past six is cut. It reports false for
// an empty value or one with non-hex characters.
func NormalizeColor(color string) (string, bool) {
	color = strings.TrimPrefix(color, "#")
	if color == "" {
		return "", false
	}
	color = strings.ToUpper(color)
	for _, c := range color {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", false
		}
	}
	if len(color) < 6 {
		color = strings.Repeat("0", 6-len(color)) + color
	}
	return "#" + color[:6], true
}

// NormalizeIconURL resolves a marker icon. Bare names are looked up under
// IconBase, http is upgraded to https, a missing scheme gets https and a
// missing .png suffix is appended. It reports false for URLs with anything
// but letters, digits, '.', '-' and '/' after the scheme, or with "//" or
// ".." in the path.
func NormalizeIconURL(u string) (string, bool) {
	if !safeIconURL(u) {
		return "", false
	}
	if !strings.Contains(u, "/") {
		u = IconBase + u
	}
	if strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if !strings.HasSuffix(u, ".png") {
		u += ".png"
	}
	return u, true
}

func safeIconURL(u string) bool {
	if u == "" {
		return false
	}
	u = strings.ReplaceAll(u, "://", "")
	if strings.Contains(u, "//") || strings.Contains(u, "..") {
		return false
	}
	for _, c := range u {
		switch {
		case c == '.' || c == '-' || c == '/':
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
