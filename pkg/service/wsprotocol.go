package service

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second

	maxMessageSize = 64 * 1024
)

// SignalRequest is one client→server frame: a client-chosen correlation id,
// the method name, and the method's payload.
type SignalRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SignalResponse answers one request. Exactly one of Data and Error is set.
type SignalResponse struct {
	ID    uint64      `json:"id"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// SignalEvent is an unsolicited server→client frame. It carries no id.
type SignalEvent struct {
	Method string      `json:"method"`
	Data   interface{} `json:"data"`
}

// WebsocketClient is the subset of *websocket.Conn the signal connection
// uses, split out so tests can substitute it.
type WebsocketClient interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// WSSignalConnection frames the signaling protocol over one websocket. Reads
// happen from a single goroutine (the connection's session loop); writes are
// serialized by an internal mutex since responses and room events come from
// different goroutines.
type WSSignalConnection struct {
	conn WebsocketClient
	mu   sync.Mutex
}

func NewWSSignalConnection(conn WebsocketClient) *WSSignalConnection {
	conn.SetReadLimit(maxMessageSize)
	wsc := &WSSignalConnection{conn: conn}
	go wsc.pingWorker()
	return wsc
}

func (c *WSSignalConnection) Close() error {
	return c.conn.Close()
}

func (c *WSSignalConnection) ReadRequest() (*SignalRequest, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			serverlogger.Debugw("unsupported message type", "type", messageType)
			continue
		}
		req := &SignalRequest{}
		if err = json.Unmarshal(payload, req); err != nil {
			return nil, errors.Wrap(err, "malformed signal request")
		}
		return req, nil
	}
}

func (c *WSSignalConnection) WriteResponse(id uint64, data interface{}) error {
	return c.writeJSON(&SignalResponse{ID: id, Data: data})
}

func (c *WSSignalConnection) WriteError(id uint64, message string) error {
	return c.writeJSON(&SignalResponse{ID: id, Error: message})
}

func (c *WSSignalConnection) WriteEvent(method string, data interface{}) error {
	return c.writeJSON(&SignalEvent{Method: method, Data: data})
}

func (c *WSSignalConnection) writeJSON(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSSignalConnection) pingWorker() {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()

	for range ticker.C {
		err := c.conn.WriteControl(websocket.PingMessage, []byte(""), time.Now().Add(pingTimeout))
		if err != nil {
			return
		}
	}
}

// IsWebSocketCloseError checks that error is normal/expected closure
func IsWebSocketCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.HasSuffix(err.Error(), "use of closed network connection") ||
		strings.HasSuffix(err.Error(), "connection reset by peer") ||
		websocket.IsCloseError(
			err,
			websocket.CloseAbnormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNormalClosure,
			websocket.CloseNoStatusReceived,
		)
}
