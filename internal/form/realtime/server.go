package realtime

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transports
const (
	TransportWebSocket = "ws"
	TransportSSE       = "sse"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Authorizer decides whether conn may subscribe to a scope.
type Authorizer interface {
	CanSubscribe(ctx context.Context, conn *Conn, s Scope) bool
}

// ServerOptions tunables of the transports
type ServerOptions struct {
	PingInterval time.Duration
	Authorizer   Authorizer
	CheckOrigin  func(r *http.Request) bool
	Logger       *zap.Logger
}

// Server attaches websocket and SSE clients to the coordinator's registry.
type Server struct {
	coord        *Coordinator
	registry     *Registry
	authorizer   Authorizer
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

func NewServer(coord *Coordinator, opts ServerOptions) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		coord:        coord,
		registry:     coord.Registry(),
		authorizer:   opts.Authorizer,
		pingInterval: opts.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: opts.Logger,
	}
}

// Client identity taken from the authenticated request.
type Client struct {
	UserID    string
	CompanyID int64
}

// ServeWS upgrades the request and blocks until the connection closes.
// Initial subscriptions may be passed as taskId / companyId query params.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, client Client) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	connID := uuid.New().String()
	conn := s.registry.Register(connID, client.UserID, client.CompanyID, TransportWebSocket)
	defer s.registry.Unregister(connID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(ws, conn)
	}()

	s.coord.Reply(connID, TypeConnectionEstablished, ConnectionPayload{ConnectionID: connID, UserID: client.UserID})
	s.subscribeFromQuery(r, conn)

	s.readPump(r.Context(), ws, conn)

	s.registry.Unregister(connID)
	<-done
	return nil
}

func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	pongWait := s.pingInterval * 2
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleControl(ctx, conn, frame)
	}
}

func (s *Server) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleControl processes one client frame: subscribe, unsubscribe or ping.
func (s *Server) handleControl(ctx context.Context, conn *Conn, frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		s.coord.Reply(conn.ID, TypeError, ErrorPayload{Message: err.Error()})
		return
	}
	switch msg.Type {
	case TypePing:
		s.coord.Reply(conn.ID, TypePong, map[string]interface{}{"timestamp": time.Now().UTC()})
	case TypeSubscribe, TypeUnsubscribe:
		scopes := scopesOf(msg.TaskID, msg.CompanyID)
		if len(scopes) == 0 {
			s.coord.Reply(conn.ID, TypeError, ErrorPayload{Message: msg.Type + " requires taskId or companyId"})
			return
		}
		for _, sc := range scopes {
			if msg.Type == TypeSubscribe {
				s.subscribe(ctx, conn, sc)
			} else {
				s.registry.Unsubscribe(conn.ID, sc)
				s.coord.Reply(conn.ID, TypeUnsubscribed, scopePayload(sc))
			}
		}
	case TypePong:
	default:
		s.coord.Reply(conn.ID, TypeError, ErrorPayload{Message: "unsupported message type " + msg.Type})
	}
}

func (s *Server) subscribe(ctx context.Context, conn *Conn, sc Scope) bool {
	if s.authorizer != nil && !s.authorizer.CanSubscribe(ctx, conn, sc) {
		s.coord.Reply(conn.ID, TypeError, ErrorPayload{Message: "not allowed to subscribe to " + sc.String()})
		return false
	}
	if _, err := s.registry.Subscribe(conn.ID, sc); err != nil {
		s.coord.Reply(conn.ID, TypeError, ErrorPayload{Message: err.Error()})
		return false
	}
	s.coord.Reply(conn.ID, TypeSubscribed, scopePayload(sc))
	return true
}

func (s *Server) subscribeFromQuery(r *http.Request, conn *Conn) {
	taskID, _ := strconv.ParseInt(r.URL.Query().Get("taskId"), 10, 64)
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("companyId"), 10, 64)
	for _, sc := range scopesOf(taskID, companyID) {
		s.subscribe(r.Context(), conn, sc)
	}
}

func scopesOf(taskID, companyID int64) []Scope {
	var out []Scope
	if taskID > 0 {
		out = append(out, TaskScope(taskID))
	}
	if companyID > 0 {
		out = append(out, CompanyScope(companyID))
	}
	return out
}

func scopePayload(sc Scope) map[string]interface{} {
	if sc.Kind == ScopeTask {
		return map[string]interface{}{"taskId": sc.ID}
	}
	return map[string]interface{}{"companyId": sc.ID}
}
