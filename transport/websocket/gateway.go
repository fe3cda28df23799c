package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/chesslive/game/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// Default inbound limits per connection.
const (
	DefaultInboundRate  = 20
	DefaultInboundBurst = 40
)

// Inbound event names.
const (
	ActionJoin     = "join"
	ActionJoinGame = "joinGame"
	ActionMove     = "move"
	ActionLeave    = "leave"
)

// Inbound is the envelope clients send.
type Inbound struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	GameID    string          `json:"gameId,omitempty"`
	Move      json.RawMessage `json:"move,omitempty"`
}

// Session returns the target session, accepting the gameId alias.
func (in Inbound) Session() string {
	if in.SessionID != "" {
		return in.SessionID
	}
	return in.GameID
}

// Gateway upgrades HTTP requests to WebSocket connections and translates
// their inbound events into service calls.
type Gateway struct {
	hub      *Hub
	svc      service.GameService
	logger   *zap.Logger
	upgrader websocket.Upgrader

	inboundRate  rate.Limit
	inboundBurst int
	newID        func() string

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithInboundRate sets the per-connection inbound message limit. A limit of
// zero or less disables limiting.
func WithInboundRate(perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) {
		if perSecond <= 0 {
			g.inboundRate = rate.Inf
		} else {
			g.inboundRate = rate.Limit(perSecond)
		}
		if burst > 0 {
			g.inboundBurst = burst
		}
	}
}

// WithIDGenerator overrides how connection ids are generated.
func WithIDGenerator(fn func() string) GatewayOption {
	return func(g *Gateway) { g.newID = fn }
}

// NewGateway creates a gateway publishing through hub.
func NewGateway(hub *Hub, svc service.GameService, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		hub:    hub,
		svc:    svc,
		logger: logger.Named("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		inboundRate:  DefaultInboundRate,
		inboundBurst: DefaultInboundBurst,
		newID:        uuid.NewString,
		clients:      make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Client represents a WebSocket client
type Client struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	sub     *Subscriber
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessionID string
}

// ServeWS handles WebSocket requests from clients. A session_id query
// parameter joins that session right away.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := g.newID()
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := &Client{
		id:      id,
		gateway: g,
		conn:    conn,
		sub:     g.hub.NewSubscriber(id),
		limiter: rate.NewLimiter(g.inboundRate, g.inboundBurst),
		ctx:     ctx,
		cancel:  cancel,
	}

	g.mu.Lock()
	g.clients[id] = client
	g.mu.Unlock()

	g.logger.Info("client connected",
		zap.String("connection_id", id),
		zap.String("remote_addr", r.RemoteAddr))

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump(r.URL.Query().Get("session_id"))
	}()
}

// ClientCount returns the number of open connections.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every open connection with a going-away frame and waits
// for their pumps to exit.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.conn.Close()
	}
	g.wg.Wait()
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) handle(in Inbound) {
	switch in.Event {
	case ActionJoin, ActionJoinGame:
		c.join(in.Session())
	case ActionMove:
		c.move(in.Session(), in.Move)
	case ActionLeave:
		c.leave()
	default:
		c.sendError(in.Session(), fmt.Errorf("%w: unknown event %q", service.ErrInvalidRequest, in.Event))
	}
}

// join subscribes the connection to sessionID, leaving any previous session
// first, then registers it as a participant. Subscribing before joining
// makes the joiner receive its own gameState and every later move.
func (c *Client) join(sessionID string) {
	if strings.TrimSpace(sessionID) == "" {
		c.sendError("", fmt.Errorf("%w: session_id is required", service.ErrInvalidRequest))
		return
	}
	if c.sub.Closed() {
		return
	}

	c.mu.Lock()
	prev := c.sessionID
	c.sessionID = sessionID
	c.mu.Unlock()

	g := c.gateway
	if prev != "" && prev != sessionID {
		g.hub.Unsubscribe(prev, c.id)
		if err := g.svc.Disconnect(c.ctx, prev, c.id); err != nil {
			g.logger.Debug("leave previous session",
				zap.String("session_id", prev),
				zap.String("connection_id", c.id),
				zap.Error(err))
		}
	}

	g.hub.Subscribe(sessionID, c.sub)
	if _, err := g.svc.JoinSession(c.ctx, sessionID, c.id); err != nil {
		g.hub.Unsubscribe(sessionID, c.id)
		c.mu.Lock()
		if c.sessionID == sessionID {
			c.sessionID = ""
		}
		c.mu.Unlock()
		c.sendError(sessionID, err)
	}
}

func (c *Client) move(sessionID string, move json.RawMessage) {
	if sessionID == "" {
		sessionID = c.currentSession()
	}
	if _, err := c.gateway.svc.RecordMove(c.ctx, sessionID, c.id, move); err != nil {
		c.sendError(sessionID, err)
	}
}

func (c *Client) leave() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if sessionID == "" {
		return
	}
	c.gateway.hub.Unsubscribe(sessionID, c.id)
	if err := c.gateway.svc.Disconnect(c.ctx, sessionID, c.id); err != nil {
		c.gateway.logger.Debug("disconnect",
			zap.String("session_id", sessionID),
			zap.String("connection_id", c.id),
			zap.Error(err))
	}
}

// sendError replies to this connection only.
func (c *Client) sendError(sessionID string, err error) {
	payload := service.NewErrorPayload(err)
	c.gateway.logger.Debug("client error",
		zap.String("session_id", sessionID),
		zap.String("connection_id", c.id),
		zap.String("code", payload.Code),
		zap.Error(err))
	c.gateway.hub.SendTo(c.sub, sessionID, service.EventError, payload)
}

// readPump pumps messages from the WebSocket connection to the service.
// initialSession, if set, is joined before the first inbound message is read.
func (c *Client) readPump(initialSession string) {
	defer func() {
		c.leave()
		c.sub.Close()
		c.cancel()
		c.conn.Close()

		c.gateway.mu.Lock()
		delete(c.gateway.clients, c.id)
		c.gateway.mu.Unlock()
		c.gateway.logger.Info("client disconnected", zap.String("connection_id", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if initialSession != "" {
		c.join(initialSession)
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Warn("websocket read error",
					zap.String("connection_id", c.id),
					zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.gateway.hub.SendTo(c.sub, c.currentSession(), service.EventError, service.ErrorPayload{
				Code:    service.CodeRateLimited,
				Message: "too many messages",
			})
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError(c.currentSession(), fmt.Errorf("%w: %v", service.ErrInvalidRequest, err))
			continue
		}
		c.handle(in)
	}
}

// writePump pumps queued messages to the WebSocket connection, one frame
// per message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	send := c.sub.Send()
	for {
		select {
		case message, ok := <-send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The subscriber was closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
