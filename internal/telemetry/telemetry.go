// Package telemetry is a read-only WebSocket status broadcaster: clients
// connect and receive periodic snapshots of toolhead position, heater
// state, and fault state. There is no command channel — G-code execution,
// file management, and the database namespace from the teacher's
// Moonraker-compatible server are all out of scope here.
package telemetry

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"motioncore/pkg/log"
)

// Snapshot is one broadcast frame.
type Snapshot struct {
	EventTime float64            `json:"eventtime"`
	Axes      map[string]float64 `json:"axes"`
	Heaters   []HeaterStatus     `json:"heaters"`
	Faulted   bool               `json:"faulted"`
}

// HeaterStatus is one heater's reported state.
type HeaterStatus struct {
	Index   int     `json:"index"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	PWM     float64 `json:"pwm"`
	Fault   bool    `json:"fault"`
}

// Source supplies the data a Server broadcasts. The orchestrator's owning
// binary implements this over internal/move and internal/heat.
type Source interface {
	Snapshot() Snapshot
}

// Server broadcasts periodic snapshots to every connected WebSocket client.
type Server struct {
	addr   string
	source Source
	rate   time.Duration

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[int64]*client
	nextID    int64

	running atomic.Bool
	log     *log.Logger
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan Snapshot
	done   chan struct{}
	once   sync.Once
}

// Config configures a Server.
type Config struct {
	Addr   string        // HTTP address to listen on, e.g. ":7126"
	Source Source
	Rate   time.Duration // broadcast period; defaults to 250ms (4Hz)
}

// New creates a telemetry Server.
func New(cfg Config) *Server {
	rate := cfg.Rate
	if rate <= 0 {
		rate = 250 * time.Millisecond
	}
	return &Server{
		addr:   cfg.Addr,
		source: cfg.Source,
		rate:   rate,
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.New("telemetry"),
	}
}

// Start begins serving HTTP and broadcasting. It returns once the listener
// is up; Stop shuts it down.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	s.running.Store(true)

	go s.broadcastLoop()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && s.running.Load() {
			s.log.WithError(err).Error("telemetry server stopped")
		}
	}()
	return nil
}

// Addr returns the actual listening address, including the port the OS
// assigned if Config.Addr used ":0". Valid only after a successful Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, closing every connected client.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.clientsMu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()
	for s.running.Load() {
		<-ticker.C
		snap := s.source.Snapshot()
		s.clientsMu.RLock()
		for _, c := range s.clients {
			c.send(snap)
		}
		s.clientsMu.RUnlock()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id := atomic.AddInt64(&s.nextID, 1)
	c := &client{id: id, conn: conn, sendCh: make(chan Snapshot, 8), done: make(chan struct{})}

	s.clientsMu.Lock()
	s.clients[id] = c
	s.clientsMu.Unlock()

	go c.writePump()
	c.readPump(s)
}

// readPump only exists to detect client disconnection; telemetry accepts
// no inbound commands.
func (c *client) readPump(s *Server) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		c.close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case snap, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) send(snap Snapshot) {
	select {
	case c.sendCh <- snap:
	case <-c.done:
	default:
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
