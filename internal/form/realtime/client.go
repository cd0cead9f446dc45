package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WatchClient a websocket consumer of the broadcast stream. It drops the
// echo of operations it issued itself.
type WatchClient struct {
	ws      *websocket.Conn
	tracker *OperationTracker

	writeMu      sync.Mutex
	connectionID string
}

// Dial connects to a /api/ws endpoint. token is sent as the token query
// param, the way browsers authenticate websockets.
func Dial(ctx context.Context, endpoint, token string) (*WatchClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &WatchClient{ws: ws, tracker: NewOperationTracker(time.Minute)}, nil
}

// Tracker the operation ids this client treats as its own.
func (c *WatchClient) Tracker() *OperationTracker {
	return c.tracker
}

// ConnectionID the id announced in connection_established; empty until that
// message has been read. Pass it as X-Client-ID on REST calls to be excluded
// from their broadcasts.
func (c *WatchClient) ConnectionID() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.connectionID
}

func (c *WatchClient) send(msgType string, taskID, companyID int64) error {
	frame, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		CompanyID: companyID,
	})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *WatchClient) Subscribe(s Scope) error {
	if s.Kind == ScopeTask {
		return c.send(TypeSubscribe, s.ID, 0)
	}
	return c.send(TypeSubscribe, 0, s.ID)
}

func (c *WatchClient) Unsubscribe(s Scope) error {
	if s.Kind == ScopeTask {
		return c.send(TypeUnsubscribe, s.ID, 0)
	}
	return c.send(TypeUnsubscribe, 0, s.ID)
}

func (c *WatchClient) Ping() error {
	return c.send(TypePing, 0, 0)
}

// Next blocks for the next message that is not an echo of an own operation.
func (c *WatchClient) Next(ctx context.Context) (Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		msg, err := Decode(frame)
		if err != nil {
			continue
		}
		if msg.Type == TypeConnectionEstablished {
			var p ConnectionPayload
			if msg.DecodePayload(&p) == nil {
				c.writeMu.Lock()
				c.connectionID = p.ConnectionID
				c.writeMu.Unlock()
			}
		}
		if !c.tracker.ShouldProcess(msg) {
			continue
		}
		return msg, nil
	}
}

func (c *WatchClient) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}
