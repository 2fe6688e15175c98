package websocket

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/OCAP2/mapsync/internal/controller"
	"github.com/OCAP2/mapsync/pkg/protocol"
	ws "github.com/gorilla/websocket"
)

const peerSendChSize = 1024

// Server is the controller end of the link. It serves one canvas at a time;
// a new connection replaces the previous one.
type Server struct {
	m        *controller.Map
	secret   string
	upgrader ws.Upgrader
	log      *slog.Logger

	mu     sync.Mutex
	active *peer
}

// NewServer serves m. An empty secret accepts every client.
func NewServer(m *controller.Map, secret string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		m:        m,
		secret:   secret,
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log.With("component", "websocket"),
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	got := r.URL.Query().Get("secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

// ServeHTTP upgrades the request and runs the peer until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	p := &peer{
		conn:   conn,
		sendCh: make(chan []byte, peerSendChSize),
		done:   make(chan struct{}),
		log:    s.log.With("remote", r.RemoteAddr),
	}

	// Attach and Detach both run under s.mu so they follow s.active.
	s.mu.Lock()
	prev := s.active
	s.active = p
	s.m.Attach(p)
	s.mu.Unlock()
	if prev != nil {
		prev.log.Info("replaced by new canvas")
		prev.close()
	}
	p.log.Info("canvas connected")
	go p.writeLoop()
	s.readLoop(p)

	s.mu.Lock()
	if s.active == p {
		s.active = nil
		s.m.Detach()
	}
	s.mu.Unlock()
	p.close()
	p.log.Info("canvas disconnected")
}

func (s *Server) readLoop(p *peer) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Unmarshal(data)
		if err != nil {
			p.log.Warn("dropping malformed notification", "error", err)
			continue
		}
		if err := s.m.Receive(env); err != nil {
			p.log.Warn("notification failed", "type", env.Type, "error", err)
		}
	}
}

// Close disconnects the current canvas, if any.
func (s *Server) Close() {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p != nil {
		p.close()
	}
}

// peer is one connected canvas. It implements controller.Sender.
type peer struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// Send queues a command for the write loop.
func (p *peer) Send(msgType string, payload any) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return errClosed
	case p.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", errSendFull, msgType)
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.sendCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
			if err := p.conn.WriteMessage(ws.TextMessage, data); err != nil {
				p.log.Warn("WebSocket write error", "error", err)
				p.close()
				return
			}
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
