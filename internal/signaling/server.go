// Package signaling relays WebRTC negotiation between the host and the
// joiner of a room over websockets.
package signaling

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	RoleHost   = "host"
	RoleJoiner = "joiner"

	sendBuffer   = 16
	writeTimeout = 10 * time.Second
)

type Config struct {
	Logger *logrus.Logger
}

// Server keeps at most one host and one joiner per room. A room exists
// while its host is connected.
type Server struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	host   *member
	joiner *member
}

func (r *room) peerOf(role string) *member {
	if role == RoleHost {
		return r.joiner
	}
	return r.host
}

type member struct {
	role   string
	send   chan []byte
	closed bool
}

// closeLocked must be called with the server lock held.
func (m *member) closeLocked() {
	if !m.closed {
		m.closed = true
		close(m.send)
	}
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: make(map[string]*room),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms/{roomID}", s.serveRoom)
	return mux
}

// ListenAndServe serves the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infof("Signaling relay listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeAll()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	role := r.URL.Query().Get("role")
	log := s.log.WithFields(logrus.Fields{"room": roomID, "role": role, "remote": r.RemoteAddr})

	if role != RoleHost && role != RoleJoiner {
		http.Error(w, "role must be host or joiner", http.StatusBadRequest)
		return
	}

	m := &member{role: role, send: make(chan []byte, sendBuffer)}
	rm, status := s.reserve(roomID, m)
	if status != http.StatusOK {
		log.Warnf("Refused: %s", http.StatusText(status))
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrade failed")
		s.leave(roomID, rm, m)
		return
	}
	log.Info("Joined room")

	go writeLoop(conn, m.send)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.relay(rm, m, msg, log)
	}

	s.leave(roomID, rm, m)
	log.Info("Left room")
}

func (s *Server) reserve(roomID string, m *member) (*room, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[roomID]
	switch m.role {
	case RoleHost:
		if rm != nil {
			return nil, http.StatusConflict
		}
		rm = &room{host: m}
		s.rooms[roomID] = rm
	case RoleJoiner:
		if rm == nil {
			return nil, http.StatusNotFound
		}
		if rm.joiner != nil {
			return nil, http.StatusConflict
		}
		rm.joiner = m
	}
	return rm, http.StatusOK
}

func (s *Server) relay(rm *room, from *member, msg []byte, log *logrus.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	to := rm.peerOf(from.role)
	if to == nil || to.closed {
		log.Debug("Dropping signal, no peer in room")
		return
	}
	select {
	case to.send <- msg:
	default:
		log.Warn("Dropping signal, peer is not reading")
	}
}

// leave removes m from its room. A leaving host closes the room and
// disconnects the joiner.
func (s *Server) leave(roomID string, rm *room, m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.closeLocked()
	switch {
	case rm.host == m:
		if rm.joiner != nil {
			rm.joiner.closeLocked()
		}
		if s.rooms[roomID] == rm {
			delete(s.rooms, roomID)
		}
	case rm.joiner == m:
		rm.joiner = nil
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rm := range s.rooms {
		rm.host.closeLocked()
		if rm.joiner != nil {
			rm.joiner.closeLocked()
		}
		delete(s.rooms, id)
	}
}

// Rooms reports how many rooms are open.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func writeLoop(conn *websocket.Conn, send <-chan []byte) {
	defer conn.Close()

	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}
