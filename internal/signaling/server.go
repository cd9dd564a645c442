// Package signaling implements the room relay that carries signaling
// messages between the two participants of a room, and the client that
// participants use to reach it.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/pairtalk/internal/protocol"
	"github.com/1ureka/pairtalk/internal/util"
)

const (
	roomCapacity   = 2
	sendBufferSize = 64 // outgoing frames queued per connection

	// DefaultMaxMessageBytes bounds one inbound frame. SDP with many
	// candidates stays well below this.
	DefaultMaxMessageBytes = 64 * 1024

	closeReasonRoomFull = "room full"
)

// ErrRoomFull is returned by Dial when the room already has two participants.
var ErrRoomFull = errors.New("room full")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// MaxMessageBytes bounds inbound frames; 0 means DefaultMaxMessageBytes.
	MaxMessageBytes int64
}

// Server relays messages between the participants of each room. A room holds
// at most two participants; identities are assigned on join.
type Server struct {
	cfg ServerConfig

	mu    sync.Mutex
	rooms map[string]map[string]*member

	listener net.Listener
	http     *http.Server
}

// member is one connected participant. Its writer goroutine is the only one
// that writes data frames to ws.
type member struct {
	id   string
	room string
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (m *member) close() {
	m.once.Do(func() {
		close(m.done)
		m.ws.Close()
	})
}

// enqueue hands a frame to the writer. It blocks while the queue is full so
// that per-sender order is kept.
func (m *member) enqueue(data []byte) {
	select {
	case m.out <- data:
	case <-m.done:
	}
}

func (m *member) writeLoop() {
	for {
		select {
		case data := <-m.out:
			if err := m.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogDebug("relay: write to %s: %v", m.id, err)
				m.close()
				return
			}
		case <-m.done:
			return
		}
	}
}

// NewServer creates a relay.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Server{
		cfg:   cfg,
		rooms: make(map[string]map[string]*member),
	}
}

// Handler returns the relay's HTTP routes:
//
//	GET /ws?room=R   join room R over WebSocket
//	GET /healthz     liveness
//	GET /rooms       participant count per room
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/rooms", s.handleRooms)
	return r
}

// Start begins listening on addr. Returns the assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler()}

	go func() {
		_ = s.http.Serve(listener)
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Close stops accepting connections and disconnects every participant.
func (s *Server) Close() {
	if s.http != nil {
		_ = s.http.Close()
	}

	s.mu.Lock()
	var all []*member
	for _, members := range s.rooms {
		for _, m := range members {
			all = append(all, m)
		}
	}
	s.rooms = make(map[string]map[string]*member)
	s.mu.Unlock()

	for _, m := range all {
		m.close()
	}
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	counts := make(map[string]int, len(s.rooms))
	for name, members := range s.rooms {
		counts[name] = len(members)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(counts)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	m := &member{
		id:   uuid.NewString(),
		room: room,
		ws:   ws,
		out:  make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	others, ok := s.join(m)
	if !ok {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, closeReasonRoomFull))
		ws.Close()
		return
	}
	go m.writeLoop()
	util.LogInfo("relay: %s joined room %s", m.id, room)

	s.deliver(m, &protocol.Message{Type: protocol.TypeWelcome, To: m.id, Room: room})
	for _, o := range others {
		s.deliver(m, &protocol.Message{Type: protocol.TypePeerJoined, From: o.id, To: m.id, Room: room})
		s.deliver(o, &protocol.Message{Type: protocol.TypePeerJoined, From: m.id, To: o.id, Room: room})
	}

	s.readLoop(m)

	for _, o := range s.leave(m) {
		s.deliver(o, &protocol.Message{Type: protocol.TypePeerLeft, From: m.id, To: o.id, Room: room})
	}
	m.close()
	util.LogInfo("relay: %s left room %s", m.id, room)
}

// readLoop forwards the member's messages until its connection fails.
func (s *Server) readLoop(m *member) {
	for {
		_, data, err := m.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("relay: read from %s: %v", m.id, err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.reject(m, err.Error())
			continue
		}
		if !msg.Type.IsPeer() {
			s.reject(m, fmt.Sprintf("%s is reserved for the relay", msg.Type))
			continue
		}

		// The relay is the authority on identity and room.
		msg.From = m.id
		msg.Room = m.room

		s.mu.Lock()
		dst := s.rooms[m.room][msg.To]
		s.mu.Unlock()
		if dst == nil || dst == m {
			s.reject(m, fmt.Sprintf("unknown recipient %q", msg.To))
			continue
		}
		s.deliver(dst, msg)
	}
}

func (s *Server) reject(m *member, reason string) {
	util.Stats.AddDropped()
	s.deliver(m, &protocol.Message{Type: protocol.TypeError, To: m.id, Room: m.room, Payload: reason})
}

func (s *Server) deliver(m *member, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		util.LogError("relay: encode %s: %v", msg.Type, err)
		return
	}
	m.enqueue(data)
}

// join adds m to its room and returns the members already present, sorted by
// identity. It fails when the room is full.
func (s *Server) join(m *member) ([]*member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[m.room]
	if members == nil {
		members = make(map[string]*member)
		s.rooms[m.room] = members
	}
	if len(members) >= roomCapacity {
		return nil, false
	}

	others := make([]*member, 0, len(members))
	for _, o := range members {
		others = append(others, o)
	}
	sort.Slice(others, func(i, j int) bool { return others[i].id < others[j].id })

	members[m.id] = m
	return others, true
}

// leave removes m and returns the members that remain.
func (s *Server) leave(m *member) []*member {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[m.room]
	if members[m.id] != m {
		return nil
	}
	delete(members, m.id)
	if len(members) == 0 {
		delete(s.rooms, m.room)
	}

	rest := make([]*member, 0, len(members))
	for _, o := range members {
		rest = append(rest, o)
	}
	return rest
}
