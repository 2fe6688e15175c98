// Package monitor reports what a canvas or controller currently holds, as a
// JSON endpoint and as a periodically rewritten status file.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/mapsync/internal/controller"
	"github.com/OCAP2/mapsync/internal/session"
	"github.com/OCAP2/mapsync/pkg/core"
)

// StatusFileName is written into Dependencies.StatusDir.
const StatusFileName = "status.json"

// Dependencies holds all dependencies for the monitor service. Exactly one
// of Session and Map is expected.
type Dependencies struct {
	Session   *session.Session
	Map       *controller.Map
	StatusDir string
	Interval  time.Duration
	Logger    *slog.Logger
}

// Status is a snapshot of one side of the link.
type Status struct {
	Time      time.Time      `json:"time"`
	Role      string         `json:"role"`
	State     string         `json:"state"`
	SessionID string         `json:"sessionId,omitempty"`
	Shapes    map[string]int `json:"shapes"`
	Pending   int            `json:"pending,omitempty"`
	Viewport  *core.Viewport `json:"viewport,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	stopped   chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status file loop is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func shapeCounts(counts map[core.Kind]int) map[string]int {
	out := make(map[string]int, len(core.Kinds))
	for _, k := range core.Kinds {
		out[k.String()] = counts[k]
	}
	return out
}

// GetStatus returns the current status. On the canvas side it waits for the
// session goroutine.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	st := Status{Time: time.Now()}
	switch {
	case s.deps.Session != nil:
		sess := s.deps.Session
		st.Role = "canvas"
		st.SessionID = sess.ID()
		var counts map[core.Kind]int
		err := sess.Query(ctx, func(sess *session.Session) {
			st.State = sess.State().String()
			counts = sess.Shapes().Count()
			if sess.State() == session.StateReady {
				v := sess.Viewport().Snapshot()
				st.Viewport = &v
			}
		})
		if err != nil {
			return Status{}, err
		}
		st.Shapes = shapeCounts(counts)
	case s.deps.Map != nil:
		m := s.deps.Map
		st.Role = "controller"
		st.State = "waiting"
		if m.Ready() {
			st.State = "ready"
		}
		st.SessionID = m.SessionID()
		st.Shapes = shapeCounts(m.Counts())
		st.Pending = m.Pending()
		if v, ok := m.Viewport(); ok {
			st.Viewport = &v
		}
	default:
		return Status{}, errors.New("monitor has nothing to report on")
	}
	return st, nil
}

// ServeHTTP writes the status as JSON.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := s.GetStatus(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.deps.Logger.Warn("Error writing status", "error", err)
	}
}

// Start starts the status file goroutine. It is a no-op without a StatusDir.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning || s.deps.StatusDir == "" {
		s.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(s.deps.StatusDir, 0755); err != nil {
		s.mu.Unlock()
		return err
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.stopped = make(chan struct{})
	stop, stopped := s.stopChan, s.stopped
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(stopped)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine")
		path := filepath.Join(s.deps.StatusDir, StatusFileName)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.writeStatus(path, stop); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

func (s *Service) writeStatus(path string, stop <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Interval)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	st, err := s.GetStatus(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Stop stops the status file goroutine and waits for it.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}
