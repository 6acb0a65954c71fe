package notice

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
)

// Server broadcasts notices to connected WebSocket clients.
// It implements Notifier, so it can be handed to the sync coordinator and
// connectivity monitor directly.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// Subscribed browsers and CLI watchers
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Pending notices, drained by broadcastLoop
	broadcast chan Notice

	// Recent notices replayed to new clients
	history    []Notice
	historyMax int
	historyMu  sync.Mutex

	// Cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config configures a notice Server.
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on (default: 8765, 0 picks a free port)
	Port int

	// History is how many recent notices new clients receive (default: 20)
	History int

	// Logger for server activity (default: stderr with "[notice] " prefix)
	Logger *log.Logger
}

// DefaultConfig listens on localhost:8765 and keeps 20 notices.
func DefaultConfig() *Config {
	return &Config{
		Host:    "127.0.0.1",
		Port:    8765,
		History: 20,
		Logger:  log.New(os.Stderr, "[notice] ", log.LstdFlags),
	}
}

// NewServer creates a notice server. Call Start to begin listening.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[notice] ", log.LstdFlags)
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.History <= 0 {
		config.History = 20
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Notice, 100),
		historyMax: config.History,
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
	}
}

// Start listens and serves /ws, /health and /notices in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/notices", s.handleNotices)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Notice server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop disconnects clients and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping notice server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
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

	s.logger.Println("Notice server stopped")
	return nil
}

// Notify queues n for broadcast. Never blocks; drops the notice when the
// queue is full.
func (s *Server) Notify(n Notice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	s.remember(n)

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	select {
	case s.broadcast <- n:
	default:
		s.logger.Println("Warning: broadcast channel full, dropping notice")
	}
}

func (s *Server) remember(n Notice) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, n)
	if over := len(s.history) - s.historyMax; over > 0 {
		s.history = append([]Notice(nil), s.history[over:]...)
	}
}

// Recent returns the notices new clients are replayed, oldest first.
func (s *Server) Recent() []Notice {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return append([]Notice(nil), s.history...)
}

// broadcastLoop fans queued notices out to every client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case n := <-s.broadcast:
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Printf("Failed to marshal notice: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket upgrades the request, sends the greeting and backlog,
// then subscribes the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Greeting and backlog go out before the client joins the broadcast set
	// so a concurrent broadcast cannot interleave with them.
	greeting, _ := json.Marshal(New(KindConnected, LevelInfo, "Connected to portal notices"))
	if err := s.write(conn, greeting); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}
	for _, n := range s.Recent() {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if err := s.write(conn, data); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "")
			return
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop discards client frames until the connection drops.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient closes conn once, whichever path notices the failure first.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"notices": s.Recent(),
	})
}

// Addr returns the bound address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount reports subscribed clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
