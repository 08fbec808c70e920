// Package reversews implements the reverse-WebSocket driver: the
// platform client dials in to /ws/api and speaks JSON frames both ways.
package reversews

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/projectcoral/coral/internal/adapter"
	"github.com/projectcoral/coral/internal/bus"
)

// DefaultPort is the reverse-WebSocket listen port.
const DefaultPort = 21050

// outboundRate caps action frames per second per connection; bursts up
// to outboundBurst are allowed.
const (
	outboundRate  = 30
	outboundBurst = 30
)

// Driver accepts one reverse-WebSocket client on /ws/api and shuttles
// frames between it and the bound adapter.
type Driver struct {
	port    int
	selfID  string
	adapter adapter.Adapter
	bots    *adapter.Manager
	bus     *bus.EventBus

	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	conn     *connection
}

// New creates a reverse-WebSocket driver. selfID is the fallback
// identity when the client does not announce one. Port 0 binds an
// ephemeral port; negative falls back to DefaultPort.
func New(port int, selfID string, a adapter.Adapter, bots *adapter.Manager, b *bus.EventBus) *Driver {
	if port < 0 {
		port = DefaultPort
	}
	return &Driver{
		port:    port,
		selfID:  selfID,
		adapter: a,
		bots:    bots,
		bus:     b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (d *Driver) Name() string     { return "reversews" }
func (d *Driver) Protocol() string { return d.adapter.Protocol() }

// Addr returns the bound listen address, valid once Start has opened
// the listener.
func (d *Driver) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Start listens until ctx is done or the listener fails.
func (d *Driver) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/api", func(w http.ResponseWriter, r *http.Request) {
		d.handleClient(ctx, w, r)
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", d.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", d.port, err)
	}

	server := &http.Server{Handler: mux}
	d.mu.Lock()
	d.server = server
	d.listener = listener
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("reverse websocket listening", "addr", listener.Addr().String(), "path", "/ws/api")
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Stop shuts the server down and drops the active client.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	server := d.server
	conn := d.conn
	d.server = nil
	d.listener = nil
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (d *Driver) handleClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	busy := d.conn != nil
	d.mu.Unlock()
	if busy {
		slog.Warn("rejecting second websocket client", "remote", r.RemoteAddr)
		http.Error(w, "a client is already connected", http.StatusConflict)
		return
	}

	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	selfID := r.Header.Get("X-Self-ID")
	if selfID == "" {
		selfID = d.selfID
	}
	conn := &connection{
		ws:      ws,
		selfID:  selfID,
		limiter: rate.NewLimiter(outboundRate, outboundBurst),
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.adapter.BindSender(conn)
	d.bots.CreateBot(d.Protocol(), selfID, d.adapter, nil)
	slog.Info("websocket client connected", "remote", r.RemoteAddr, "self_id", selfID)

	d.readLoop(ctx, conn)

	d.adapter.UnbindSender(conn.SelfID())
	d.bots.RemoveBot(d.Protocol(), conn.SelfID())
	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()
	slog.Info("websocket client disconnected", "self_id", conn.SelfID())
}

func (d *Driver) readLoop(ctx context.Context, conn *connection) {
	defer conn.close()
	for {
		msgType, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := d.adapter.HandleIncoming(ctx, raw)
		if err != nil {
			slog.Warn("dropping undecodable frame", "error", err)
			continue
		}
		switch typed := ev.(type) {
		case nil:
		case *adapter.ConnectSignal:
			d.rebind(conn, typed.SelfID)
		default:
			d.bus.Publish(ctx, ev)
		}
	}
}

// rebind updates the connection identity when the client announces a
// self ID different from the handshake's.
func (d *Driver) rebind(conn *connection, selfID string) {
	if selfID == "" || selfID == conn.SelfID() {
		return
	}
	old := conn.SelfID()
	d.adapter.UnbindSender(old)
	d.bots.RemoveBot(d.Protocol(), old)

	conn.setSelfID(selfID)
	d.adapter.BindSender(conn)
	d.bots.CreateBot(d.Protocol(), selfID, d.adapter, nil)
	slog.Info("client announced identity", "self_id", selfID)
}

// connection is one accepted client. It satisfies adapter.Sender.
type connection struct {
	ws      *websocket.Conn
	limiter *rate.Limiter

	mu      sync.Mutex
	selfID  string
	writeMu sync.Mutex
}

func (c *connection) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *connection) setSelfID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfID = id
}

// SendAction writes one {action, params, echo} frame, rate limited.
func (c *connection) SendAction(ctx context.Context, action string, params map[string]any, echo string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	frame := map[string]any{
		"action": action,
		"params": params,
	}
	if echo != "" {
		frame["echo"] = echo
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("write action frame: %w", err)
	}
	return nil
}

func (c *connection) close() {
	c.ws.Close()
}

var _ adapter.Sender = (*connection)(nil)
