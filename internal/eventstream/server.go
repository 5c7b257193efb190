package eventstream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cognitedata/edge-osc/connectors/inputs"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const EventsPath = "/events"

// Source is a camera publishing submission events.
type Source interface {
	Name() string
	Subscribe(kinds ...inputs.Kind) chan inputs.Event
	Unsubscribe(ch chan inputs.Event)
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	camera string
	kind   inputs.Kind
}

func (c *client) accepts(ev inputs.Event) bool {
	return (c.camera == "" || c.camera == ev.Camera) && (c.kind == "" || c.kind == ev.Kind)
}

// Server relays camera events to websocket clients on GET /events.
// Clients may filter with ?camera=<name> and ?kind=started|succeeded|failed.
type Server struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*client]struct{}
	subs     map[chan inputs.Event]Source
	httpSrv  *http.Server
	log      *log.Entry
}

func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
		subs:    map[chan inputs.Event]Source{},
		log:     log.WithField("component", "event-stream"),
	}
}

// Attach relays all events of src until its bus is shut down or the server stops.
func (s *Server) Attach(src Source) {
	ch := src.Subscribe()
	s.mu.Lock()
	s.subs[ch] = src
	s.mu.Unlock()
	go func() {
		for ev := range ch {
			s.Broadcast(ev)
		}
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(EventsPath, s)
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed : ", err.Error())
		return
	}
	c := &client{
		conn:   conn,
		send:   make(chan []byte, 32),
		camera: r.URL.Query().Get("camera"),
		kind:   inputs.Kind(r.URL.Query().Get("kind")),
	}
	s.addClient(c)
	s.log.Debugf("Event stream client connected from %s", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) Broadcast(ev inputs.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("Can't encode event : ", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if !c.accepts(ev) {
			continue
		}
		select {
		case c.send <- b:
		default:
			s.log.Info("Dropping slow event stream client")
			s.dropClient(c)
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropClient(c)
}

// dropClient requires s.mu.
func (s *Server) dropClient(c *client) {
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (s *Server) readPump(c *client) {
	defer s.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		s.log.Infof("Event stream listening on %s%s", addr, EventsPath)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Event stream server failed : ", err.Error())
		}
	}()
}

// Stop closes the listener, detaches all sources and disconnects clients.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.mu.Lock()
	subs := s.subs
	s.subs = map[chan inputs.Event]Source{}
	for c := range s.clients {
		s.dropClient(c)
	}
	s.mu.Unlock()
	for ch, src := range subs {
		src.Unsubscribe(ch)
	}
	return err
}
