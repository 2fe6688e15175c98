package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{"canvas", []string{"canvas"}, options{role: roleCanvas, configDir: "."}, false},
		{"controller with flags", []string{"-c", "/etc/mapsync", "--default-marker", "--log-level", "debug", "Controller"},
			options{role: roleController, configDir: "/etc/mapsync", logLevel: "debug", defaultMarker: true}, false},
		{"version needs no role", []string{"--version"}, options{configDir: ".", showVersion: true}, false},
		{"no role", nil, options{}, true},
		{"two roles", []string{"canvas", "controller"}, options{}, true},
		{"unknown role", []string{"browser"}, options{}, true},
		{"unknown flag", []string{"--nope", "canvas"}, options{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseArgs([]string{"--help"}, &out)
	assert.ErrorIs(t, err, errHelp)
	assert.Contains(t, out.String(), "Usage: mapsync")
}
