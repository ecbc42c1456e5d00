// Package feed serves the live change feed over WebSocket.
//
// Every committed store change is fanned out to connected clients as a
// "change" message. A client may narrow what it receives with a filter on
// entity and id, given as query parameters on /ws or later with a
// subscribe message. The server also exposes cursor polling of the feed,
// an HTML preview of the rendered document, the in-memory TODO sections,
// and a forced git sync.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Mschirtzinger/todomd/internal/gitsync"
	"github.com/Mschirtzinger/todomd/internal/sections"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// MessageType defines the type of feed message
type MessageType string

const (
	// MessageTypeHello is sent once after a client connects
	MessageTypeHello MessageType = "hello"

	// MessageTypeChange carries one store change
	MessageTypeChange MessageType = "change"

	// MessageTypeSubscribed acknowledges a filter change
	MessageTypeSubscribed MessageType = "subscribed"

	// MessageTypeSync carries the outcome of a git sync
	MessageTypeSync MessageType = "sync"

	// MessageTypeError reports a malformed client message
	MessageTypeError MessageType = "error"
)

// Message is the envelope of everything written to a client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Filter selects changes by entity and id. Empty fields match anything.
type Filter struct {
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
}

// Matches reports whether n passes the filter.
func (f Filter) Matches(n store.Notification) bool {
	return (f.Entity == "" || f.Entity == n.Entity) && (f.ID == "" || f.ID == n.ID)
}

// HelloData is the payload of the hello message.
type HelloData struct {
	ClientID  string `json:"client_id"`
	Filter    Filter `json:"filter"`
	LatestSeq int64  `json:"latest_seq"`
}

// clientMessage is what clients send. Only "subscribe" is understood.
type clientMessage struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

// Syncer runs git syncs on demand. *gitsync.Worker implements it.
type Syncer interface {
	ForceSync(ctx context.Context, reason string) (*gitsync.Outcome, error)
	LastOutcome() *gitsync.Outcome
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default ":8765"; ":0" picks a free port)
	Addr string

	Store *store.Store

	// Sections backs /sections. Optional.
	Sections *sections.SectionStore

	// Syncer backs /sync. Optional.
	Syncer Syncer

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8765",
		Logger: log.New(os.Stderr, "[feed] ", log.LstdFlags),
	}
}

type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	filter Filter
}

func (c *client) getFilter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *client) setFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// outbound is a queued message. A change is only delivered to clients
// whose filter matches note.
type outbound struct {
	msg  Message
	note *store.Notification
}

// Server manages WebSocket connections and broadcasts feed messages
type Server struct {
	config   *Config
	st       *store.Store
	logger   *log.Logger
	listener net.Listener
	server   *http.Server

	clients   map[string]*client
	clientsMu sync.RWMutex

	broadcast   chan outbound
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a feed server for config.Store.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Addr == "" {
		config.Addr = ":8765"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:    config,
		st:        config.Store,
		logger:    config.Logger,
		clients:   make(map[string]*client),
		broadcast: make(chan outbound, 256),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /changes", s.handleChanges)
	mux.HandleFunc("GET /sections/{name}", s.handleGetSection)
	mux.HandleFunc("PATCH /sections/{name}", s.handlePatchSection)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("GET /sync", s.handleLastSync)
	mux.HandleFunc("GET /{$}", s.handlePreview)
	return mux
}

// Start begins the HTTP server and forwards store changes to clients.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.unsubscribe = s.st.Subscribe(s.Publish)

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Feed server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes all clients and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping feed server")

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()

	s.clientsMu.Lock()
	for id, c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Feed server stopped")
	return nil
}

// Publish queues a store change for delivery. It never blocks, so it can
// be registered directly with store.Subscribe.
func (s *Server) Publish(n store.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Printf("Failed to marshal change: %v", err)
		return
	}
	s.enqueue(outbound{
		msg:  Message{Type: MessageTypeChange, Timestamp: n.At, Data: data},
		note: &n,
	})
}

// Broadcast queues a message for every client.
func (s *Server) Broadcast(msg Message) {
	s.enqueue(outbound{msg: msg})
}

func (s *Server) enqueue(out outbound) {
	select {
	case s.broadcast <- out:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case out := <-s.broadcast:
			if out.msg.Timestamp.IsZero() {
				out.msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(out.msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			targets := make([]*client, 0, len(s.clients))
			for _, c := range s.clients {
				if out.note == nil || c.getFilter().Matches(*out.note) {
					targets = append(targets, c)
				}
			}
			s.clientsMu.RUnlock()

			for _, c := range targets {
				if err := s.write(c, data); err != nil {
					s.logger.Printf("Failed to send to client %s: %v", c.id, err)
					s.removeClient(c)
				}
			}
		}
	}
}

func (s *Server) write(c *client, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) send(c *client, typ MessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: typ, Timestamp: time.Now(), Data: data})
	if err != nil {
		return err
	}
	return s.write(c, msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		filter: Filter{
			Entity: r.URL.Query().Get("entity"),
			ID:     r.URL.Query().Get("id"),
		},
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client %s connected (total: %d)", c.id, count)

	seq, err := s.st.LatestSeq(r.Context())
	if err != nil {
		s.logger.Printf("Failed to read latest seq: %v", err)
	}
	if err := s.send(c, MessageTypeHello, HelloData{ClientID: c.id, Filter: c.getFilter(), LatestSeq: seq}); err != nil {
		s.removeClient(c)
		return
	}

	s.readLoop(c)
}

// readLoop handles subscribe messages until the client goes away.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	for {
		_, data, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var in clientMessage
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "subscribe" {
			_ = s.send(c, MessageTypeError, map[string]string{"error": "expected {\"type\":\"subscribe\"}"})
			continue
		}
		f := Filter{Entity: in.Entity, ID: in.ID}
		c.setFilter(f)
		if err := s.send(c, MessageTypeSubscribed, f); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, exists := s.clients[c.id]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c.id)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client %s disconnected (total: %d)", c.id, count)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
