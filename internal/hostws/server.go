// Package hostws exposes the animation engine to host runtimes over
// WebSocket. The server is the engine's dispatch target: blended output
// values are buffered during a tick and broadcast to every connected host as
// one JSON frame per tick. Inbound messages carry commands (schedule a
// snippet, retarget gaze, speak, apply an expression) that are dispatched to
// a [CommandHandler].
package hostws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/observe"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compile-time checks that *Server is a full engine dispatch target.
var (
	_ engine.Host       = (*Server)(nil)
	_ engine.AxisSetter = (*Server)(nil)
)

// sendBuffer is the per-client outbound queue depth. A client that cannot
// keep up has whole frames dropped rather than stalling the tick loop.
const sendBuffer = 64

// Frame is the per-tick message broadcast to connected hosts.
type Frame struct {
	Type    string             `json:"type"` // always "frame"
	Outputs map[string]float64 `json:"outputs,omitempty"`
	Axes    map[string]float64 `json:"axes,omitempty"`
	Ended   []string           `json:"ended,omitempty"`
}

// Server buffers engine output between ticks and broadcasts it to WebSocket
// clients. All exported methods are safe for concurrent use.
type Server struct {
	handler CommandHandler
	metrics *observe.Metrics

	mu      sync.Mutex
	outputs map[string]float64
	axes    map[string]float64
	ended   []string
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Option configures a [Server] during construction.
type Option func(*Server)

// WithMetrics wires an observe metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a Server that dispatches inbound commands to handler.
// handler may be nil, in which case commands are rejected.
func NewServer(handler CommandHandler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		outputs: make(map[string]float64),
		axes:    make(map[string]float64),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ApplyChannel implements [engine.Host]. Values are buffered until the next
// [Server.Flush].
func (s *Server) ApplyChannel(id string, value float64) error {
	s.mu.Lock()
	s.outputs[id] = value
	s.mu.Unlock()
	return nil
}

// SetAxis implements [engine.AxisSetter].
func (s *Server) SetAxis(name string, value float64) error {
	s.mu.Lock()
	s.axes[name] = value
	s.mu.Unlock()
	return nil
}

// SnippetEnded implements [engine.Host]. End notifications ride on the next
// frame.
func (s *Server) SnippetEnded(name string) {
	s.mu.Lock()
	s.ended = append(s.ended, name)
	s.mu.Unlock()
}

// Flush broadcasts everything buffered since the previous flush as one frame
// and clears the buffers. Flushing with no buffered data and no ended
// snippets is a no-op so idle ticks stay silent on the wire.
func (s *Server) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.outputs) == 0 && len(s.axes) == 0 && len(s.ended) == 0 {
		s.mu.Unlock()
		return
	}
	frame := Frame{Type: "frame", Outputs: s.outputs, Axes: s.axes, Ended: s.ended}
	s.outputs = make(map[string]float64)
	s.axes = make(map[string]float64)
	s.ended = nil

	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("hostws: marshal frame", "err", err)
		return
	}
	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Client is too slow; drop the frame for it.
			slog.Debug("hostws: dropped frame for slow client")
		}
	}
}

// ClientCount returns the number of connected host clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Routes registers the server's HTTP endpoints on mux: the WebSocket
// endpoint at /ws and Prometheus metrics at /metrics. Both run behind the
// observability middleware. Health probes are registered separately by the
// application.
func (s *Server) Routes(mux *http.ServeMux) {
	mw := observe.Middleware(s.metrics)
	mux.Handle("/ws", mw(http.HandlerFunc(s.handleWS)))
	mux.Handle("/metrics", mw(promhttp.Handler()))
}

// handleWS upgrades the connection and runs the client's read and write
// loops until either side closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("hostws: accept failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnectedHosts.Add(r.Context(), 1)
	slog.Info("hostws: host connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.metrics.ConnectedHosts.Add(context.Background(), -1)
	// c.send is left open: a concurrent Flush may still hold a reference to
	// this client, and the write loop exits via ctx.
	conn.Close(websocket.StatusNormalClosure, "bye")
	slog.Info("hostws: host disconnected", "remote", r.RemoteAddr)
}

// writeLoop drains the client's send queue onto the wire.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// readLoop decodes inbound commands and replies with an ack or error per
// command.
func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		reply := s.dispatch(ctx, data)
		out, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		select {
		case c.send <- out:
		default:
			slog.Debug("hostws: dropped reply for slow client")
		}
	}
}
