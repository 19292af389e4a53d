package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebSocket wraps a gorilla connection with deadlines and protocol-level
// pings. gorilla allows one concurrent writer, so writes are serialized.
type WebSocket struct {
	*websocket.Conn
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wmu    sync.Mutex
	once   sync.Once
}

func NewWebSocket(parent context.Context, log *slog.Logger, conn *websocket.Conn) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{Conn: conn, log: log, ctx: ctx, cancel: cancel}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// KeepAlive pings every interval; onPong runs for each pong received.
// The read deadline is pushed out by readTimeout on every pong.
func (w *WebSocket) KeepAlive(interval, readTimeout time.Duration, onPong func()) {
	_ = w.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	w.Conn.SetPongHandler(func(string) error {
		_ = w.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		if onPong != nil {
			onPong()
		}
		return nil
	})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.wmu.Lock()
				err := w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				w.wmu.Unlock()
				if err != nil {
					w.log.Debug("ws conn - ping - failed", "err", err)
					w.Close()
					return
				}
			}
		}
	}()
}

// ReadLoop blocks until the peer goes away, handing every text frame to onMsg.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) {
	defer w.Close()

	w.Conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Warn("ws conn - read - unexpected close", "err", err)
			}
			return
		}
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	w.once.Do(func() {
		w.cancel()
		_ = w.Conn.Close()
	})
}
