package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/controller"
	"github.com/OCAP2/mapsync/internal/dispatcher"
	"github.com/OCAP2/mapsync/internal/handlers"
	"github.com/OCAP2/mapsync/internal/influx"
	"github.com/OCAP2/mapsync/internal/logging"
	"github.com/OCAP2/mapsync/internal/monitor"
	intOtel "github.com/OCAP2/mapsync/internal/otel"
	"github.com/OCAP2/mapsync/internal/provider/memory"
	"github.com/OCAP2/mapsync/internal/session"
	wstransport "github.com/OCAP2/mapsync/internal/transport/websocket"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// BuildVersion and BuildDate can be set at build time via ldflags
var (
	BuildVersion = "0.0.1"
	BuildDate    = "unknown"
)

const (
	appName           = "mapsync"
	canvasPath        = "/canvas"
	statusPath        = "/status"
	scenePath         = "/scene"
	tapBufferSize     = 1000
	shutdownTimeout   = 5 * time.Second
	canvasWidth       = 1024
	canvasHeight      = 768
	readHeaderTimeout = 10 * time.Second
)

// app holds what both roles share: loggers, telemetry and the log file.
type app struct {
	opts    options
	slogMgr *logging.SlogManager
	log     *slog.Logger
	zlog    zerolog.Logger
	logFile *os.File
	otel    *intOtel.Provider

	// read by every log record
	session atomic.Pointer[session.Session]
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, errHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("%s %s (%s)\n", appName, BuildVersion, BuildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info("Starting up", "role", opts.role, "version", BuildVersion, "build", BuildDate)
	switch opts.role {
	case roleCanvas:
		return a.runCanvas(ctx)
	default:
		return a.runController(ctx)
	}
}

// newApp loads the config and sets up logging: text to stdout until the log
// file is open, then the file plus OTel when enabled.
func newApp(opts options) (*app, error) {
	a := &app{opts: opts, slogMgr: logging.NewSlogManager(appName)}
	a.slogMgr.Setup(nil, "info", nil, nil)
	a.log = a.slogMgr.Logger()

	if err := config.Load(opts.configDir); err != nil {
		a.log.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.log.Info("Loaded config", "dir", opts.configDir)
	}
	level := config.GetString("logLevel")
	if opts.logLevel != "" {
		level = opts.logLevel
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, appName+"_"+opts.role, time.Now())
	file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		a.log.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		a.logFile = file
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled && a.logFile != nil {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			Version:      BuildVersion,
			Role:         opts.role,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    a.logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.log.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.log.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var logProvider *sdklog.LoggerProvider
	if a.otel != nil {
		logProvider = a.otel.LoggerProvider()
	}
	var out io.Writer = os.Stdout
	if a.logFile != nil {
		out = a.logFile
	}
	a.slogMgr.Setup(out, level, logProvider, a.scope)
	a.log = a.slogMgr.Logger()
	a.zlog = logging.NewZerolog(out, level, opts.role)
	a.log.Info("Logging to file", "path", logPath)
	return a, nil
}

// scope is called for every record. It must not take the controller lock.
func (a *app) scope() logging.Scope {
	sc := logging.Scope{Role: a.opts.role}
	if sess := a.session.Load(); sess != nil {
		sc.SessionID = sess.ID()
		sc.State = sess.State().String()
	}
	return sc
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.slogMgr.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flushing logs:", err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "shutting down otel:", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// serve runs srv until ctx is done.
func (a *app) serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("HTTP shutdown", "error", err)
	}
	return ctx.Err()
}

// runController serves the canvas link, keeps the scene in storage and
// records interactions to InfluxDB when enabled.
func (a *app) runController(ctx context.Context) error {
	store, err := createStorageBackend(config.GetStorageConfig(), a.log, a.zlog)
	if err != nil {
		return err
	}
	if err := store.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Error("Closing storage", "error", err)
		}
	}()

	mapOpts := []controller.Option{controller.WithStore(store), controller.WithLogger(a.log)}
	tap, closeTap := a.interactionTap(ctx)
	defer closeTap()
	if tap != nil {
		mapOpts = append(mapOpts, controller.WithTap(tap))
	}

	m, err := controller.New(mapOpts...)
	if err != nil {
		return err
	}
	n, err := m.Restore()
	if err != nil {
		return fmt.Errorf("restoring scene: %w", err)
	}
	if n == 0 && a.opts.defaultMarker {
		m.AddDefaultMarker()
	}
	m.OnReady(func(id string) { a.log.Info("Canvas ready", "session", id) })

	ctrlCfg := config.GetControllerConfig()
	link := wstransport.NewServer(m, ctrlCfg.Secret, a.log)
	defer link.Close()

	mon := monitor.NewService(monitor.Dependencies{
		Map:       m,
		StatusDir: filepath.Join(config.GetString("logsDir"), roleController),
		Logger:    a.log,
	})
	if err := mon.Start(); err != nil {
		a.log.Warn("Status file disabled", "error", err)
	}
	defer mon.Stop()

	mux := http.NewServeMux()
	mux.Handle(canvasPath, link)
	mux.Handle(statusPath, mon)
	return a.serve(ctx, &http.Server{Addr: ctrlCfg.Listen, Handler: mux, ReadHeaderTimeout: readHeaderTimeout})
}

// interactionTap builds the dispatcher that feeds canvas interactions to
// InfluxDB. It returns nil when the sink is disabled.
func (a *app) interactionTap(ctx context.Context) (controller.Tap, func()) {
	mgr := influx.NewManager(a.zlog.With().Str("sink", "influx").Logger(), config.GetInfluxConfig())
	if err := mgr.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			a.log.Error("Failed to set up InfluxDB", "error", err)
		}
		return nil, func() {}
	}
	d, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog))
	if err != nil {
		a.log.Error("Failed to create interaction dispatcher", "error", err)
		_ = mgr.Close()
		return nil, func() {}
	}
	influx.Register(d, mgr, tapBufferSize)
	a.log.Info("Recording interactions", "influx", mgr.IsValid, "backup", mgr.BackupPath)
	return d, func() {
		d.Close()
		if err := mgr.Close(); err != nil {
			a.log.Error("Closing InfluxDB", "error", err)
		}
	}
}

// runCanvas runs a headless canvas on the in-memory provider: it dials the
// controller, applies its commands and serves its status and scene.
func (a *app) runCanvas(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mapCfg, err := config.GetMapConfig()
	if err != nil {
		return err
	}
	ctrlCfg := config.GetControllerConfig()

	client := wstransport.NewClient(wstransport.Config{URL: ctrlCfg.URL, Secret: ctrlCfg.Secret}, a.log)
	defer client.Close()

	p := memory.New(memory.Config{})
	sess, err := session.New(p, session.Config{
		Viewport: mapCfg.Viewport,
		Styles:   mapCfg.Styles,
		KML:      mapCfg.KML,
	}, session.WithNotifier(client), session.WithLogger(a.log))
	if err != nil {
		return err
	}
	if _, err := handlers.NewService(sess, logging.NewDispatcherLogger(a.zlog)); err != nil {
		return err
	}
	a.session.Store(sess)

	if err := client.Dial(sess); err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	go func() {
		if err := p.Load(ctx); err != nil {
			a.log.Error("Loading map provider", "error", err)
			return
		}
		sess.Post(session.APILoaded())
	}()
	sess.Post(session.Attached(memory.Container{Name: appName, Width: canvasWidth, Height: canvasHeight}))

	mon := monitor.NewService(monitor.Dependencies{
		Session:   sess,
		StatusDir: filepath.Join(config.GetString("logsDir"), roleCanvas),
		Logger:    a.log,
	})
	if err := mon.Start(); err != nil {
		a.log.Warn("Status file disabled", "error", err)
	}
	defer mon.Stop()

	mux := http.NewServeMux()
	mux.Handle(statusPath, mon)
	mux.HandleFunc(scenePath, func(w http.ResponseWriter, r *http.Request) {
		var data []byte
		var exportErr error
		err := sess.Query(r.Context(), func(s *session.Session) {
			if s.Map() == nil {
				exportErr = errors.New("map not ready")
				return
			}
			data, exportErr = p.Export(s.Map())
		})
		if err == nil {
			err = exportErr
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(data)
	})

	serveErr := a.serve(ctx, &http.Server{
		Addr:              config.GetString("status.listen"),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	})
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return serveErr
}
