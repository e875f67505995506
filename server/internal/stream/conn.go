package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 5 * time.Second
)

// ServerMessage 推送给客户端的消息。
type ServerMessage struct {
	Type     string              `json:"type"`
	State    *model.SessionState `json:"state,omitempty"`
	Error    string              `json:"error,omitempty"`
	ServerTS time.Time           `json:"server_ts"`
}

// Conn 把一个订阅写到 websocket 上：快照、定时 ping、关闭握手。
// 客户端只读，收到的任何数据帧都被忽略。
type Conn struct {
	conn         *websocket.Conn
	connLock     sync.Mutex
	sub          *Subscription
	pingInterval time.Duration
	logger       *logger.LogMiddleware

	closeOnce sync.Once
	closeChan chan struct{}
}

// NewConn 包装一个已经升级的 websocket 连接。
func NewConn(conn *websocket.Conn, sub *Subscription, pingInterval time.Duration, log *logger.LogMiddleware) *Conn {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Conn{
		conn:         conn,
		sub:          sub,
		pingInterval: pingInterval,
		logger:       log,
		closeChan:    make(chan struct{}),
	}
}

// Serve 先发送 initial 快照，然后持续推送，直到客户端断开、ctx 取消或订阅关闭。
func (c *Conn) Serve(ctx context.Context, initial model.SessionState) error {
	defer c.Close()

	go c.readLoop()

	if err := c.send(ServerMessage{Type: "snapshot", State: &initial, ServerTS: time.Now()}); err != nil {
		return err
	}

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeChan:
			return nil
		case state, ok := <-c.sub.C():
			if !ok {
				return nil
			}
			if err := c.send(ServerMessage{Type: "snapshot", State: &state, ServerTS: time.Now()}); err != nil {
				return err
			}
		case <-ticker.C:
			c.connLock.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.connLock.Unlock()
			if err != nil {
				return fmt.Errorf("ping client: %w", err)
			}
		}
	}
}

func (c *Conn) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readLoop 只为了处理 pong/close 控制帧并感知断开。
func (c *Conn) readLoop() {
	defer c.markClosed()
	// http.Server 的 ReadTimeout 在劫持后仍然留在连接上。
	_ = c.conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Logger(context.Background()).Warn("[Stream] client read failed",
					zap.String("session_id", c.sub.SessionID()),
					zap.Error(err))
			}
			return
		}
	}
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() { close(c.closeChan) })
}

// Close 发送关闭帧并关闭底层连接，可重复调用。
func (c *Conn) Close() error {
	c.markClosed()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// Done 连接关闭时关闭的 channel。
func (c *Conn) Done() <-chan struct{} {
	return c.closeChan
}
