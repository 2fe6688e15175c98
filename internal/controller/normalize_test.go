package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"#abc", "#000ABC", true},
		{"ff0000", "#FF0000", true},
		{"#1234567", "#123456", true},
		{"ff", "#0000FF", true},
		{"", "", false},
		{"#", "", false},
		{"red", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeColor(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIconURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"blue-dot", IconBase + "blue-dot.png", true},
		{"blue-dot.png", IconBase + "blue-dot.png", true},
		{"http://example.com/a/icon.png", "https://example.com/a/icon.png", true},
		{"example.com/icon", "https://example.com/icon.png", true},
		{"https://example.com/icon.png", "https://example.com/icon.png", true},
		{"https://example.com//icon.png", "", false},
		{"https://example.com/../icon.png", "", false},
		{"javascript:alert(1)", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeIconURL(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
