// Package observer serves the agent's event stream over websocket for
// local dashboards.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/observerproto"
)

const (
	defaultRecent = 100
	clientQueue   = 256
)

type Options struct {
	// Recent is how many events the bootstrap endpoint replays.
	Recent int
	// AllowRemote serves non-loopback peers.
	AllowRemote bool
}

// Server is an events.Sink. Handle never blocks: a client whose queue is
// full misses the event.
type Server struct {
	log         *log.Logger
	allowRemote bool
	upgrader    websocket.Upgrader
	nextID      atomic.Uint64
	seq         atomic.Uint64
	dropped     atomic.Uint64

	mu      sync.Mutex
	runID   string
	account string
	recent  []events.Event
	max     int
	clients map[string]*client
}

type client struct {
	out chan []byte

	mu    sync.Mutex
	kinds map[events.Kind]struct{}
}

func (c *client) wants(k events.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.kinds) == 0 {
		return true
	}
	_, ok := c.kinds[k]
	return ok
}

func (c *client) subscribe(sub observerproto.SubscribeMsg) {
	kinds := make(map[events.Kind]struct{}, len(sub.Kinds))
	for _, k := range sub.Kinds {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			kinds[events.Kind(k)] = struct{}{}
		}
	}
	c.mu.Lock()
	c.kinds = kinds
	c.mu.Unlock()
}

func NewServer(opts Options, logger *log.Logger) *Server {
	n := opts.Recent
	if n <= 0 {
		n = defaultRecent
	}
	return &Server{
		log:         logger,
		allowRemote: opts.AllowRemote,
		max:         n,
		clients:     map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handle(e events.Event) {
	msg := observerproto.EventMsg{
		Type:            observerproto.TypeEvent,
		ProtocolVersion: observerproto.Version,
		Seq:             s.seq.Add(1),
		Event:           e,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.runID = e.RunID
	s.account = e.Account
	s.recent = append(s.recent, e)
	if len(s.recent) > s.max {
		s.recent = append(s.recent[:0], s.recent[len(s.recent)-s.max:]...)
	}
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if !c.wants(e.Kind) {
			continue
		}
		select {
		case c.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped counts events not delivered to a slow client.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Mux mounts the bootstrap and websocket endpoints.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.permitted(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.runID,
			Account:         s.account,
			Recent:          append([]events.Event{}, s.recent...),
		}
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.permitted(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		c := &client{out: make(chan []byte, clientQueue)}
		c.subscribe(sub)
		s.mu.Lock()
		s.clients[sid] = c
		s.mu.Unlock()
		s.printf("observer %s connected from %s", sid, r.RemoteAddr)
		defer func() {
			s.mu.Lock()
			delete(s.clients, sid)
			s.mu.Unlock()
			s.printf("observer %s disconnected", sid)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE may be re-sent to change the filter.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				c.subscribe(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func (s *Server) permitted(r *http.Request) bool {
	return s.allowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
