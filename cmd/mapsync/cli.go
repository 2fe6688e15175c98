package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/spf13/pflag"
)

const (
	roleCanvas     = "canvas"
	roleController = "controller"
)

// options are the command line settings. Everything else comes from the
// config file.
type options struct {
	role          string
	configDir     string
	logLevel      string
	defaultMarker bool
	showVersion   bool
}

const usage = `Usage: mapsync <canvas|controller> [flags]

  canvas       run a headless canvas that dials the controller
  controller   serve the canvas link and keep the scene

Flags:
`

var errHelp = errors.New("help requested")

// parseArgs reads the role and flags from args (without the program name).
func parseArgs(args []string, out io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("mapsync", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configDir, "config", "c", ".", "directory holding "+config.FileName)
	fs.StringVar(&opts.logLevel, "log-level", "", "override logLevel from the config")
	fs.BoolVar(&opts.defaultMarker, "default-marker", false, "controller: add a marker at the default location when the scene is empty")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, errHelp
		}
		return opts, err
	}
	if opts.showVersion {
		return opts, nil
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fs.Usage()
		return opts, fmt.Errorf("expected exactly one role, got %d", len(rest))
	}
	switch role := strings.ToLower(rest[0]); role {
	case roleCanvas, roleController:
		opts.role = role
	default:
		fs.Usage()
		return opts, fmt.Errorf("unknown role %q", rest[0])
	}
	return opts, nil
}
